package agent

import (
	"fmt"
	"strings"
	"sync"

	"github.com/clarityxdr/orchestrator/internal/store"
)

// Behavior registration. Known type tags map to a specialized behavior; any
// unrecognized tag falls back to the generic base. Adding a type means one
// RegisterBehavior call, not touching every dispatch site.
var (
	behaviorMu        sync.RWMutex
	behaviorFactories = map[string]func() Behavior{}
)

// RegisterBehavior binds a definition type tag to a behavior factory.
// Later registrations for the same tag win.
func RegisterBehavior(typeTag string, factory func() Behavior) {
	behaviorMu.Lock()
	defer behaviorMu.Unlock()
	behaviorFactories[strings.ToUpper(typeTag)] = factory
}

// behaviorFor resolves a type tag to its behavior, defaulting to the base.
func behaviorFor(typeTag string) Behavior {
	behaviorMu.RLock()
	defer behaviorMu.RUnlock()
	if factory, ok := behaviorFactories[strings.ToUpper(typeTag)]; ok {
		return factory()
	}
	return baseBehavior{}
}

func init() {
	executive := func() Behavior { return executiveBehavior{} }
	financial := func() Behavior { return financialBehavior{} }
	security := func() Behavior { return securityBehavior{} }
	business := func() Behavior { return businessBehavior{} }
	orchestrator := func() Behavior { return orchestratorBehavior{} }

	RegisterBehavior("CEO", executive)

	RegisterBehavior("CFO", financial)
	RegisterBehavior("ACCOUNTING", financial)
	RegisterBehavior("FINANCE", financial)

	RegisterBehavior("CISO", security)
	RegisterBehavior("KQL_HUNTING", security)
	RegisterBehavior("SECURITY_COPILOT", security)
	RegisterBehavior("PURVIEW_GRC", security)

	RegisterBehavior("SALES", business)
	RegisterBehavior("MARKETING", business)
	RegisterBehavior("CUSTOMER_SERVICE", business)

	RegisterBehavior("ORCHESTRATOR", orchestrator)
}

// baseBehavior acknowledges the message. Used for any unrecognized type tag.
type baseBehavior struct{}

func (baseBehavior) Respond(def store.Definition, _ Message) (string, error) {
	return fmt.Sprintf("Message received by %s", def.Name), nil
}

type executiveBehavior struct{}

func (executiveBehavior) Respond(def store.Definition, msg Message) (string, error) {
	return respondWithGuidelines(def, msg, "Executive agent %s processed the message"), nil
}

type financialBehavior struct{}

func (financialBehavior) Respond(def store.Definition, msg Message) (string, error) {
	return respondWithGuidelines(def, msg, "Financial agent %s processed the message"), nil
}

type securityBehavior struct{}

func (securityBehavior) Respond(def store.Definition, msg Message) (string, error) {
	return respondWithGuidelines(def, msg, "Security agent %s processed the message"), nil
}

type businessBehavior struct{}

func (businessBehavior) Respond(def store.Definition, msg Message) (string, error) {
	return respondWithGuidelines(def, msg, "Business agent %s processed the message"), nil
}

type orchestratorBehavior struct{}

func (orchestratorBehavior) Respond(def store.Definition, msg Message) (string, error) {
	return respondWithGuidelines(def, msg, "Orchestrator agent %s processed the message"), nil
}

// respondWithGuidelines renders the template response, appending the
// definition's guideline text when a subject is present (issue processing).
// The response capability is deliberately template text; any content
// generation backend can replace it without touching the core contract.
func respondWithGuidelines(def store.Definition, msg Message, format string) string {
	var b strings.Builder
	fmt.Fprintf(&b, format, def.Name)

	if subject, ok := msg["subject"].(string); ok && subject != "" {
		fmt.Fprintf(&b, "\n\nRegarding: %s", subject)
		if def.Guidelines != "" {
			fmt.Fprintf(&b, "\n\n%s", def.Guidelines)
		}
		if len(def.Capabilities) > 0 {
			fmt.Fprintf(&b, "\n\nCapabilities: %s", strings.Join(def.Capabilities, ", "))
		}
	}
	return b.String()
}
