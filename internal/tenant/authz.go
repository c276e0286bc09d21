package tenant

// Action names an operation submitted for authorization.
type Action string

const (
	ActionSwitch         Action = "switch"
	ActionUseCredentials Action = "use-credentials"
	ActionRotate         Action = "rotate-credentials"
)

// Decision is an authorization outcome. Reason is surfaced to the
// caller on denial and recorded in the audit trail.
type Decision struct {
	Allow  bool
	Reason string
}

// Allow is the positive decision.
var Allow = Decision{Allow: true}

// Deny builds a negative decision with the given reason.
func Deny(reason string) Decision {
	return Decision{Reason: reason}
}

// Authorizer decides whether a subject may perform an action on a
// resource. The manager checks tenant membership before consulting the
// authorizer, so implementations see only requests for tenants the
// session already lists.
type Authorizer interface {
	Authorize(subject string, action Action, resource string) Decision
}

// AuthorizerFunc adapts a function to the Authorizer interface.
type AuthorizerFunc func(subject string, action Action, resource string) Decision

func (f AuthorizerFunc) Authorize(subject string, action Action, resource string) Decision {
	return f(subject, action, resource)
}

// AllowListed is the default policy: combined with the manager's
// membership check it grants subjects exactly the tenants their
// identity lists.
func AllowListed() Authorizer {
	return AuthorizerFunc(func(string, Action, string) Decision {
		return Allow
	})
}
