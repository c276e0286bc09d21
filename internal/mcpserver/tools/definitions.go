package tools

// Scopes gate the tool families. The identity provider grants them via
// the token's scopes claim.
const (
	ScopePropertyRead = "property:read"
	ScopeDNSRead      = "dns:read"
	ScopePurgeWrite   = "purge:write"
	ScopePurgeRead    = "purge:read"
	ScopeCertRead     = "cert:read"
	ScopeCertDeploy   = "cert:deploy"
	ScopeCacheAdmin   = "cache:admin"
)

// RegisterAllTools registers all available tools with the registry
func RegisterAllTools(r *Registry) {
	registerCustomerTools(r)
	registerPropertyTools(r)
	registerDNSTools(r)
	registerPurgeTools(r)
	registerCertTools(r)
	registerCacheTools(r)
	registerServerTools(r)
}

func registerCustomerTools(r *Registry) {
	// customer.list
	r.MustRegister(ToolDefinition{
		Name:        "customer.list",
		Description: "List the tenant contexts available to this session",
		InputSchema: BuildSchema(map[string]any{}, nil),
	}, HandleListCustomers)

	// customer.current
	r.MustRegister(ToolDefinition{
		Name:        "customer.current",
		Description: "Show the tenant context the session is acting in",
		InputSchema: BuildSchema(map[string]any{}, nil),
	}, HandleCurrentCustomer)

	// customer.switch
	r.MustRegister(ToolDefinition{
		Name:        "customer.switch",
		Description: "Switch the session's current tenant context",
		InputSchema: BuildSchema(map[string]any{
			"customer": StringSchema("Tenant to switch to"),
		}, []string{"customer"}),
	}, HandleSwitchCustomer)
}

func registerPropertyTools(r *Registry) {
	// property.list
	r.MustRegister(ToolDefinition{
		Name:        "property.list",
		Description: "List CDN properties with pagination",
		InputSchema: ListSchema(),
		Scopes:      []string{ScopePropertyRead},
	}, HandleListProperties)

	// property.get
	r.MustRegister(ToolDefinition{
		Name:        "property.get",
		Description: "Retrieve one property with its version summary",
		InputSchema: BuildSchema(map[string]any{
			"customer":   CustomerSchema(),
			"propertyId": StringSchema("Property identifier, e.g. prp_12345"),
		}, []string{"propertyId"}),
		Scopes: []string{ScopePropertyRead},
	}, HandleGetProperty)

	// property.hostnames
	r.MustRegister(ToolDefinition{
		Name:        "property.hostnames",
		Description: "List a property version's hostnames and their certificate bindings",
		InputSchema: BuildSchema(map[string]any{
			"customer":   CustomerSchema(),
			"propertyId": StringSchema("Property identifier"),
			"version":    IntegerSchema("Property version (defaults to the latest)", intPtr(1), nil),
		}, []string{"propertyId"}),
		Scopes: []string{ScopePropertyRead},
	}, HandlePropertyHostnames)

	// property.activations
	r.MustRegister(ToolDefinition{
		Name:        "property.activations",
		Description: "List a property's activation history across networks",
		InputSchema: BuildSchema(map[string]any{
			"customer":   CustomerSchema(),
			"propertyId": StringSchema("Property identifier"),
		}, []string{"propertyId"}),
		Scopes: []string{ScopePropertyRead},
	}, HandlePropertyActivations)
}

func registerDNSTools(r *Registry) {
	// dns.zones
	r.MustRegister(ToolDefinition{
		Name:        "dns.zones",
		Description: "List DNS zones with pagination",
		InputSchema: ListSchema(),
		Scopes:      []string{ScopeDNSRead},
	}, HandleListZones)

	// dns.zone
	r.MustRegister(ToolDefinition{
		Name:        "dns.zone",
		Description: "Retrieve one DNS zone",
		InputSchema: BuildSchema(map[string]any{
			"customer": CustomerSchema(),
			"zone":     StringSchema("Zone name, e.g. example.com"),
		}, []string{"zone"}),
		Scopes: []string{ScopeDNSRead},
	}, HandleGetZone)

	// dns.recordsets
	r.MustRegister(ToolDefinition{
		Name:        "dns.recordsets",
		Description: "List a zone's record sets keyed by name and type",
		InputSchema: BuildSchema(pageProperties(map[string]any{
			"customer": CustomerSchema(),
			"zone":     StringSchema("Zone name"),
		}), []string{"zone"}),
		Scopes: []string{ScopeDNSRead},
	}, HandleRecordSets)
}

func registerPurgeTools(r *Registry) {
	// purge.url
	r.MustRegister(ToolDefinition{
		Name:        "purge.url",
		Description: "Purge cached content by URL; large sets are batched automatically",
		InputSchema: PurgeSchema("Absolute URLs to purge"),
		Scopes:      []string{ScopePurgeWrite},
	}, HandlePurgeURLs)

	// purge.cpcode
	r.MustRegister(ToolDefinition{
		Name:        "purge.cpcode",
		Description: "Purge all cached content under the given CP codes",
		InputSchema: PurgeSchema("Numeric CP codes to purge"),
		Scopes:      []string{ScopePurgeWrite},
	}, HandlePurgeCPCodes)

	// purge.tag
	r.MustRegister(ToolDefinition{
		Name:        "purge.tag",
		Description: "Purge cached content by cache tag",
		InputSchema: PurgeSchema("Cache tags to purge"),
		Scopes:      []string{ScopePurgeWrite},
	}, HandlePurgeTags)

	// purge.status
	r.MustRegister(ToolDefinition{
		Name:        "purge.status",
		Description: "Report a purge operation's progress",
		InputSchema: BuildSchema(map[string]any{
			"operationId": StringSchema("Operation id returned by a purge submission"),
		}, []string{"operationId"}),
		Scopes: []string{ScopePurgeRead},
	}, HandlePurgeStatus)

	// purge.dashboard
	r.MustRegister(ToolDefinition{
		Name:        "purge.dashboard",
		Description: "Summarize a tenant's purge activity and rate-limit headroom",
		InputSchema: BuildSchema(map[string]any{
			"customer": CustomerSchema(),
		}, nil),
		Scopes: []string{ScopePurgeRead},
	}, HandlePurgeDashboard)

	// purge.advisor
	r.MustRegister(ToolDefinition{
		Name:        "purge.advisor",
		Description: "Suggest consolidations for queued URL purges",
		InputSchema: BuildSchema(map[string]any{
			"customer": CustomerSchema(),
		}, nil),
		Scopes: []string{ScopePurgeRead},
	}, HandlePurgeAdvisor)
}

func registerCertTools(r *Registry) {
	// cert.enrollments
	r.MustRegister(ToolDefinition{
		Name:        "cert.enrollments",
		Description: "List certificate enrollments",
		InputSchema: BuildSchema(map[string]any{
			"customer": CustomerSchema(),
		}, nil),
		Scopes: []string{ScopeCertRead},
	}, HandleCertEnrollments)

	// cert.enrollment
	r.MustRegister(ToolDefinition{
		Name:        "cert.enrollment",
		Description: "Retrieve one enrollment with its domain validation state",
		InputSchema: BuildSchema(map[string]any{
			"customer":     CustomerSchema(),
			"enrollmentId": IntegerSchema("Enrollment identifier", intPtr(1), nil),
		}, []string{"enrollmentId"}),
		Scopes: []string{ScopeCertRead},
	}, HandleCertEnrollment)

	// cert.deploy
	r.MustRegister(ToolDefinition{
		Name:        "cert.deploy",
		Description: "Deploy a validated enrollment to a network, optionally linking properties once it lands",
		InputSchema: BuildSchema(map[string]any{
			"customer":           CustomerSchema(),
			"enrollmentId":       IntegerSchema("Enrollment identifier", intPtr(1), nil),
			"network":            NetworkSchema(),
			"autoLinkProperties": ArraySchema("Property ids to point at the certificate after deployment", map[string]any{"type": "string"}),
			"parallelLinking":    BooleanSchema("Link properties concurrently instead of in order"),
			"rollbackOnFailure":  BooleanSchema("Cancel the deployment if it fails or every link fails"),
		}, []string{"enrollmentId", "network"}),
		Scopes: []string{ScopeCertDeploy},
	}, HandleCertDeploy)

	// cert.status
	r.MustRegister(ToolDefinition{
		Name:        "cert.status",
		Description: "Report a deployment's state, progress, and property links",
		InputSchema: BuildSchema(map[string]any{
			"enrollmentId": IntegerSchema("Enrollment identifier", intPtr(1), nil),
		}, []string{"enrollmentId"}),
		Scopes: []string{ScopeCertRead},
	}, HandleCertStatus)

	// cert.rollback
	r.MustRegister(ToolDefinition{
		Name:        "cert.rollback",
		Description: "Cancel a deployment upstream and mark it rolled back",
		InputSchema: BuildSchema(map[string]any{
			"enrollmentId": IntegerSchema("Enrollment identifier", intPtr(1), nil),
		}, []string{"enrollmentId"}),
		Scopes: []string{ScopeCertDeploy},
	}, HandleCertRollback)
}

func registerCacheTools(r *Registry) {
	// cache.stats
	r.MustRegister(ToolDefinition{
		Name:        "cache.stats",
		Description: "Report response cache counters, optionally with one tenant's usage",
		InputSchema: BuildSchema(map[string]any{
			"customer": CustomerSchema(),
		}, nil),
		Scopes: []string{ScopeCacheAdmin},
	}, HandleCacheStats)

	// cache.flush
	r.MustRegister(ToolDefinition{
		Name:        "cache.flush",
		Description: "Flush a tenant's cached responses, optionally narrowed by a glob pattern",
		InputSchema: BuildSchema(map[string]any{
			"customer": CustomerSchema(),
			"pattern":  StringSchema("Glob applied inside the tenant's namespace, e.g. property:*"),
		}, nil),
		Scopes: []string{ScopeCacheAdmin},
	}, HandleCacheFlush)
}

func registerServerTools(r *Registry) {
	// server.info
	r.MustRegister(ToolDefinition{
		Name:        "server.info",
		Description: "Describe this gateway: version, tool count, and client hints",
		InputSchema: BuildSchema(map[string]any{}, nil),
		Public:      true,
	}, ServerInfoHandler(r))
}

func intPtr(v int) *int { return &v }
