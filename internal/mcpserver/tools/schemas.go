package tools

// Common JSON Schema building blocks

// StringSchema creates a JSON schema for a string field
func StringSchema(description string) map[string]any {
	return map[string]any{
		"type":        "string",
		"description": description,
	}
}

// IntegerSchema creates a JSON schema for an integer field with optional min/max
func IntegerSchema(description string, min, max *int) map[string]any {
	schema := map[string]any{
		"type":        "integer",
		"description": description,
	}
	if min != nil {
		schema["minimum"] = *min
	}
	if max != nil {
		schema["maximum"] = *max
	}
	return schema
}

// BooleanSchema creates a JSON schema for a boolean field
func BooleanSchema(description string) map[string]any {
	return map[string]any{
		"type":        "boolean",
		"description": description,
	}
}

// EnumSchema creates a JSON schema for an enum field
func EnumSchema(description string, values []string) map[string]any {
	return map[string]any{
		"type":        "string",
		"description": description,
		"enum":        values,
	}
}

// ArraySchema creates a JSON schema for an array field
func ArraySchema(description string, items map[string]any) map[string]any {
	return map[string]any{
		"type":        "array",
		"description": description,
		"items":       items,
	}
}

// BuildSchema creates a complete JSON schema object with properties and required fields
func BuildSchema(properties map[string]any, required []string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// CustomerSchema is the optional tenant selector every domain tool
// accepts.
func CustomerSchema() map[string]any {
	return StringSchema("Tenant to act as (defaults to the session's current context)")
}

// NetworkSchema selects the activation network.
func NetworkSchema() map[string]any {
	return EnumSchema("Target network", []string{"staging", "production"})
}

// pageProperties adds offset/limit pagination to a property map.
func pageProperties(props map[string]any) map[string]any {
	min0, min1, max1000 := 0, 1, 1000
	props["offset"] = IntegerSchema("Items to skip from the start of the listing", &min0, nil)
	props["limit"] = IntegerSchema("Maximum items to return (1-1000)", &min1, &max1000)
	return props
}

// ListSchema returns the shared schema for paginated list tools.
func ListSchema() map[string]any {
	return BuildSchema(pageProperties(map[string]any{
		"customer": CustomerSchema(),
	}), nil)
}

// PurgeSchema returns the schema shared by the purge submission tools.
func PurgeSchema(objectDesc string) map[string]any {
	return BuildSchema(map[string]any{
		"customer": CustomerSchema(),
		"network":  NetworkSchema(),
		"objects":  ArraySchema(objectDesc, map[string]any{"type": "string"}),
	}, []string{"objects"})
}
