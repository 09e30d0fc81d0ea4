package provider

import (
	"errors"
	"testing"

	"github.com/vendora/payments-service/internal/domain"
	"github.com/vendora/payments-service/pkg/atlasclient"
	"github.com/vendora/payments-service/pkg/meridianclient"
)

func testRegistry() *Registry {
	return NewRegistry(
		NewAtlasAdapter(atlasclient.NewClient("http://atlas.test", "key")),
		NewMeridianAdapter(meridianclient.NewClient("http://meridian.test", "key")),
	)
}

func TestRegistry_CapabilitiesByProvider(t *testing.T) {
	reg := testRegistry()

	if _, err := reg.Charger(domain.ProviderAtlasPay); err != nil {
		t.Fatalf("expected atlaspay to support one-click charges, got %v", err)
	}
	if _, err := reg.MotoCharger(domain.ProviderMeridian); err != nil {
		t.Fatalf("expected meridian to support manual-entry charges, got %v", err)
	}
	if _, err := reg.RecurringCharger(domain.ProviderMeridian); err != nil {
		t.Fatalf("expected meridian to support recurring charges, got %v", err)
	}
	if _, err := reg.Refunder(domain.ProviderAtlasPay); err != nil {
		t.Fatalf("expected atlaspay to support refunds, got %v", err)
	}
	if _, err := reg.Refunder(domain.ProviderMeridian); err != nil {
		t.Fatalf("expected meridian to support refunds, got %v", err)
	}
	if _, err := reg.WebhookDecoder(domain.ProviderAtlasPay); err != nil {
		t.Fatalf("expected atlaspay to deliver webhooks, got %v", err)
	}
	if _, err := reg.WebhookDecoder(domain.ProviderMeridian); err != nil {
		t.Fatalf("expected meridian to deliver webhooks, got %v", err)
	}
}

func TestRegistry_MissingCapabilityIsValidationError(t *testing.T) {
	reg := testRegistry()

	if _, err := reg.Charger(domain.ProviderMeridian); err == nil {
		t.Fatal("expected meridian one-click charge to be rejected")
	} else {
		var verr *domain.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected validation error, got %T: %v", err, err)
		}
	}

	if _, err := reg.MotoCharger(domain.ProviderAtlasPay); err == nil {
		t.Fatal("expected atlaspay manual-entry charge to be rejected")
	}
	if _, err := reg.RecurringCharger(domain.ProviderAtlasPay); err == nil {
		t.Fatal("expected atlaspay recurring charge to be rejected")
	}
}

func TestRegistry_FeeQuoter(t *testing.T) {
	reg := testRegistry()

	if _, ok := reg.FeeQuoter(domain.ProviderAtlasPay); !ok {
		t.Fatal("expected atlaspay to expose fees")
	}
	if _, ok := reg.FeeQuoter(domain.ProviderMeridian); ok {
		t.Fatal("meridian publishes no fee schedule, expected ok=false")
	}
	if _, ok := reg.FeeQuoter(domain.Provider("unknown")); ok {
		t.Fatal("expected ok=false for an unknown provider")
	}
}

func TestRegistry_UnknownProvider(t *testing.T) {
	reg := testRegistry()

	if _, err := reg.Charger(domain.Provider("paypal")); err == nil {
		t.Fatal("expected an error for an unregistered provider")
	} else {
		var verr *domain.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected validation error, got %T: %v", err, err)
		}
	}
}
