package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTPAddr != ":8081" || cfg.Market.Currency != "mxn" || cfg.Reconciler.Workers != 8 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Market.CommissionRate.String() != "0.2" {
		t.Fatalf("commission = %s", cfg.Market.CommissionRate)
	}
	if cfg.Market.ReservationTTL != 30*time.Minute {
		t.Fatalf("ttl = %s", cfg.Market.ReservationTTL)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_x")
	t.Setenv("RECONCILER_GROUP", "recon-a")
	t.Setenv("COMMISSION_RATE", "0.15")
	t.Setenv("RESERVATION_TTL", "45m")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.KafkaBrokers) != 2 || strings.TrimSpace(cfg.KafkaBrokers[1]) != "k2:9092" {
		t.Fatalf("brokers = %q", cfg.KafkaBrokers)
	}
	if cfg.Stripe.SecretKey != "sk_test_x" || cfg.Reconciler.Group != "recon-a" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Market.CommissionRate.String() != "0.15" || cfg.Market.ReservationTTL != 45*time.Minute {
		t.Fatalf("market = %+v", cfg.Market)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"rate too high", map[string]string{"COMMISSION_RATE": "1"}, "COMMISSION_RATE"},
		{"negative rate", map[string]string{"COMMISSION_RATE": "-0.1"}, "COMMISSION_RATE"},
		{"zero ttl", map[string]string{"RESERVATION_TTL": "0s"}, "RESERVATION_TTL"},
		{"zero sweep", map[string]string{"SWEEP_INTERVAL": "0s"}, "SWEEP_INTERVAL"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want mention of %s", err, tc.want)
			}
		})
	}
}
