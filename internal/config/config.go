// Package config reads service settings from the environment and an optional .env file.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"printshop-checkout/internal/database"
	"printshop-checkout/internal/domain"
	"printshop-checkout/internal/infrastructure/payment"
	"printshop-checkout/internal/notify"
	"printshop-checkout/internal/pricing"
	"printshop-checkout/internal/worker"
)

type Config struct {
	HTTPAddr    string
	LogLevel    slog.Level
	CORSOrigins []string

	Database database.Config
	Gateway  payment.Config
	Retry    payment.RetryPolicy

	CallbackSecret string
	// Timezone is used for callback timestamps without an offset.
	Timezone string

	SMTP    notify.SMTPConfig
	NATSURL string

	Pricing pricing.Rules
	Worker  worker.Config
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("cors.allowed.origins", "*")

	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", "5432")
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.name", "printshop")
	v.SetDefault("db.schema", "public")

	v.SetDefault("gateway.base.url", "https://ifthenpay.com/api")
	v.SetDefault("gateway.timeout", "12s")
	v.SetDefault("gateway.max.retries", payment.DefaultRetryPolicy.MaxRetries)

	v.SetDefault("payment.voucher.validity.days", 3)
	v.SetDefault("payment.link.validity.days", 3)
	v.SetDefault("payment.language", "pt")
	v.SetDefault("payment.timezone", "Europe/Lisbon")

	v.SetDefault("smtp.port", 587)

	v.SetDefault("pricing.min.width.cm", pricing.DefaultRules.MinWidthCm.String())
	v.SetDefault("pricing.min.height.cm", pricing.DefaultRules.MinHeightCm.String())
	v.SetDefault("pricing.min.area", pricing.DefaultRules.MinBillableArea.String())
	v.SetDefault("pricing.lamination.price", pricing.DefaultRules.LaminationUnitPrice.String())

	v.SetDefault("order.ttl", "168h")
	v.SetDefault("expiry.interval", "5m")
	v.SetDefault("attempt.timeout", "10m")
}

// Load reads .env when present and then the process environment, which wins.
// Keys use dots internally: payment.callback.secret is PAYMENT_CALLBACK_SECRET.
func Load(envFiles ...string) (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load(envFiles...)

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		HTTPAddr:    v.GetString("http.addr"),
		CORSOrigins: splitList(v.GetString("cors.allowed.origins")),
		Database: database.Config{
			URL:      v.GetString("database.url"),
			Host:     v.GetString("db.host"),
			Port:     v.GetString("db.port"),
			User:     v.GetString("db.user"),
			Password: v.GetString("db.password"),
			Name:     v.GetString("db.name"),
			Schema:   v.GetString("db.schema"),
		},
		Gateway: payment.Config{
			BaseURL:         strings.TrimRight(v.GetString("gateway.base.url"), "/"),
			Keys:            map[domain.Method]string{},
			Timeout:         v.GetDuration("gateway.timeout"),
			VoucherValidity: days(v.GetInt("payment.voucher.validity.days")),
			LinkValidity:    days(v.GetInt("payment.link.validity.days")),
			ReturnURL:       v.GetString("payment.return.url"),
			Language:        v.GetString("payment.language"),
		},
		Retry:          payment.DefaultRetryPolicy,
		CallbackSecret: v.GetString("payment.callback.secret"),
		Timezone:       v.GetString("payment.timezone"),
		SMTP: notify.SMTPConfig{
			Host:     v.GetString("smtp.host"),
			Port:     v.GetInt("smtp.port"),
			Username: v.GetString("smtp.username"),
			Password: v.GetString("smtp.password"),
			From:     v.GetString("mail.from"),
		},
		NATSURL: v.GetString("nats.url"),
		Worker: worker.Config{
			Interval:       v.GetDuration("expiry.interval"),
			OrderTTL:       v.GetDuration("order.ttl"),
			AttemptTimeout: v.GetDuration("attempt.timeout"),
		},
	}
	cfg.Retry.MaxRetries = v.GetUint64("gateway.max.retries")

	for _, m := range domain.Methods {
		if key := v.GetString(MethodKeyName(m)); key != "" {
			cfg.Gateway.Keys[m] = key
		}
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(v.GetString("log.level"))); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	rules, err := pricingRules(v)
	if err != nil {
		return nil, err
	}
	cfg.Pricing = rules

	if cfg.Gateway.Timeout <= 0 {
		return nil, fmt.Errorf("GATEWAY_TIMEOUT must be positive")
	}
	if cfg.Worker.Interval <= 0 || cfg.Worker.OrderTTL <= 0 {
		return nil, fmt.Errorf("EXPIRY_INTERVAL and ORDER_TTL must be positive")
	}
	return cfg, nil
}

// MethodKeyName is the config key of a method credential, e.g. payment.keys.push_to_phone.
func MethodKeyName(m domain.Method) string {
	return "payment.keys." + strings.ReplaceAll(string(m), "-", "_")
}

func pricingRules(v *viper.Viper) (pricing.Rules, error) {
	rules := pricing.Rules{FinishSurcharges: map[string]decimal.Decimal{}}
	fields := []struct {
		key string
		dst *decimal.Decimal
	}{
		{"pricing.min.width.cm", &rules.MinWidthCm},
		{"pricing.min.height.cm", &rules.MinHeightCm},
		{"pricing.min.area", &rules.MinBillableArea},
		{"pricing.lamination.price", &rules.LaminationUnitPrice},
	}
	for _, f := range fields {
		d, err := decimal.NewFromString(v.GetString(f.key))
		if err != nil {
			return rules, fmt.Errorf("invalid %s: %w", envName(f.key), err)
		}
		*f.dst = d
	}

	// PRICING_FINISHES=matte:2.00,gloss:3.50
	for _, pair := range splitList(v.GetString("pricing.finishes")) {
		name, price, ok := strings.Cut(pair, ":")
		if !ok {
			return rules, fmt.Errorf("invalid PRICING_FINISHES entry %q", pair)
		}
		d, err := decimal.NewFromString(strings.TrimSpace(price))
		if err != nil {
			return rules, fmt.Errorf("invalid PRICING_FINISHES entry %q: %w", pair, err)
		}
		rules.FinishSurcharges[strings.TrimSpace(name)] = d
	}
	return rules, nil
}

func envName(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
