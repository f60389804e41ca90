package agent

import (
	"strings"
	"testing"

	"github.com/clarityxdr/orchestrator/internal/store"
)

func TestBehaviorForTypeMapping(t *testing.T) {
	tests := []struct {
		typeTag string
		want    string
	}{
		{"CEO", "Executive agent"},
		{"CFO", "Financial agent"},
		{"ACCOUNTING", "Financial agent"},
		{"FINANCE", "Financial agent"},
		{"CISO", "Security agent"},
		{"KQL_HUNTING", "Security agent"},
		{"SECURITY_COPILOT", "Security agent"},
		{"PURVIEW_GRC", "Security agent"},
		{"SALES", "Business agent"},
		{"MARKETING", "Business agent"},
		{"CUSTOMER_SERVICE", "Business agent"},
		{"ORCHESTRATOR", "Orchestrator agent"},
		{"ciso", "Security agent"}, // tags are case-insensitive
		{"SOMETHING_ELSE", "Message received by"},
		{"", "Message received by"},
	}

	for _, tt := range tests {
		t.Run(tt.typeTag, func(t *testing.T) {
			b := behaviorFor(tt.typeTag)
			out, err := b.Respond(store.Definition{Name: "Test"}, Message{})
			if err != nil {
				t.Fatalf("Respond: %v", err)
			}
			if !strings.HasPrefix(out, tt.want) {
				t.Errorf("Respond = %q, want prefix %q", out, tt.want)
			}
		})
	}
}

func TestRegisterBehaviorOverride(t *testing.T) {
	RegisterBehavior("CUSTOM_TEST_TAG", func() Behavior { return baseBehavior{} })
	b := behaviorFor("custom_test_tag")
	if _, ok := b.(baseBehavior); !ok {
		t.Errorf("behaviorFor returned %T, want baseBehavior", b)
	}
}
