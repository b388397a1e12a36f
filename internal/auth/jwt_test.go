package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/satriahrh/concierge-voice/domain/entities"
)

func TestDeviceTokenRoundTrip(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	signer, err := NewSigner("secret", time.Hour, clk)
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}

	token, expiresAt, err := signer.GenerateDeviceToken("device-1")
	if err != nil {
		t.Fatalf("GenerateDeviceToken() error = %v", err)
	}
	if !expiresAt.Equal(clk.Now().Add(time.Hour)) {
		t.Errorf("expiresAt = %v, want one hour from now", expiresAt)
	}

	claims, err := signer.ValidateDeviceToken(token)
	if err != nil {
		t.Fatalf("ValidateDeviceToken() error = %v", err)
	}
	if claims.DeviceID != "device-1" || claims.Role != RoleDevice {
		t.Errorf("Unexpected claims %+v", claims)
	}

	clk.Add(2 * time.Hour)
	if _, err := signer.ValidateDeviceToken(token); err == nil {
		t.Error("Expected an expired token to be rejected")
	}
}

func TestValidateTokenRejectsOtherSecret(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	a, _ := NewSigner("secret-a", time.Hour, clk)
	b, _ := NewSigner("secret-b", time.Hour, clk)

	token, _, err := a.GenerateDeviceToken("device-1")
	if err != nil {
		t.Fatalf("GenerateDeviceToken() error = %v", err)
	}
	if _, err := b.ValidateToken(token); err == nil {
		t.Error("Expected token signed with another secret to be rejected")
	}
}

func TestRelayTokenIsNotADeviceToken(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	relay, err := NewRelayCredentials("shared", "concierge-voice", clk)
	if err != nil {
		t.Fatalf("NewRelayCredentials() error = %v", err)
	}

	credential, err := relay.Credential(context.Background())
	if err != nil {
		t.Fatalf("Credential() error = %v", err)
	}
	if credential.Kind != entities.CredentialBearer || credential.Token == "" {
		t.Errorf("Unexpected credential %+v", credential)
	}
	if !credential.ExpiresAt.Equal(clk.Now().Add(relayTokenTTL)) {
		t.Errorf("ExpiresAt = %v", credential.ExpiresAt)
	}

	signer, _ := NewSigner("shared", time.Hour, clk)
	claims, err := signer.ValidateToken(credential.Token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.Subject != "concierge-voice" {
		t.Errorf("Subject = %q", claims.Subject)
	}
	if _, err := signer.ValidateDeviceToken(credential.Token); !errors.Is(err, ErrInvalidRole) {
		t.Errorf("ValidateDeviceToken() error = %v, want ErrInvalidRole", err)
	}
}

func TestStaticCredentials(t *testing.T) {
	credential, err := StaticCredentials{Key: "api-key"}.Credential(context.Background())
	if err != nil {
		t.Fatalf("Credential() error = %v", err)
	}
	if credential.Kind != entities.CredentialAPIKey || credential.Token != "api-key" {
		t.Errorf("Unexpected credential %+v", credential)
	}

	if _, err := (StaticCredentials{}).Credential(context.Background()); !errors.Is(err, ErrMissingSecret) {
		t.Errorf("Credential() error = %v, want ErrMissingSecret", err)
	}
}

func TestNewSignerValidation(t *testing.T) {
	if _, err := NewSigner("", time.Hour, nil); !errors.Is(err, ErrMissingSecret) {
		t.Errorf("NewSigner() error = %v, want ErrMissingSecret", err)
	}
	if _, err := NewSigner("secret", 0, nil); err == nil {
		t.Error("Expected zero ttl to be rejected")
	}
}
