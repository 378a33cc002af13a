package render

import (
	"testing"

	"github.com/classpulse/classpulse/internal/services/comms/domain"
)

func TestLabel_Locales(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		locale string
		key    string
		want   string
	}{
		{"english delivered", "en-US", domain.LabelKeyDelivered, "Delivered"},
		{"portuguese delivered", "pt-BR", domain.LabelKeyDelivered, "Entregue"},
		{"english attention", "en-US", domain.LabelKeyAttention, "Requires attention"},
		{"portuguese attention", "pt-BR", domain.LabelKeyAttention, "Requer atenção"},
		{"unknown locale falls back to english", "fr-FR", domain.LabelKeySent, "Sent"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := Label(tc.locale, domain.Projection{LabelKey: tc.key})
			if got != tc.want {
				t.Errorf("Label(%q, %q) = %q, want %q", tc.locale, tc.key, got, tc.want)
			}
		})
	}
}

func TestLabel_RecipientFailedStaysNeutral(t *testing.T) {
	t.Parallel()

	projector, err := domain.NewProjector()
	if err != nil {
		t.Fatal(err)
	}
	projection, err := projector.Project(domain.RoleRecipient, domain.Message{State: domain.StateFailed}, "")
	if err != nil {
		t.Fatal(err)
	}
	if got := Label("en-US", projection); got != "Pending" {
		t.Errorf("recipient failed label = %q, want the neutral pending label", got)
	}
}
