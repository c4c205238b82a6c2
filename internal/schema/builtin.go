package schema

var stringType = &Type{
	Name:        "String",
	Kind:        TypeKindScalar,
	Description: "The `String` scalar type represents textual data, represented as UTF-8 character sequences.",
}

var intType = &Type{
	Name:        "Int",
	Kind:        TypeKindScalar,
	Description: "The `Int` scalar type represents non-fractional signed whole numeric values.",
}

var floatType = &Type{
	Name:        "Float",
	Kind:        TypeKindScalar,
	Description: "The `Float` scalar type represents signed double-precision fractional values.",
}

var booleanType = &Type{
	Name:        "Boolean",
	Kind:        TypeKindScalar,
	Description: "The `Boolean` scalar type represents `true` or `false`.",
}

var idType = &Type{
	Name:        "ID",
	Kind:        TypeKindScalar,
	Description: "The `ID` scalar type represents a unique identifier, often used to refetch an object or as a key for caching.",
}

var includeDirective = &Directive{
	Name:        "include",
	Description: "Directs the executor to include this field or fragment only when the `if` argument is true.",
	Arguments: []*InputValue{
		{
			Name:        "if",
			Description: "Included when true.",
			Type:        &TypeRef{Kind: TypeRefKindNonNull, OfType: &TypeRef{Kind: TypeRefKindNamed, Named: "Boolean"}},
		},
	},
	Locations:    []string{"FIELD", "FRAGMENT_SPREAD", "INLINE_FRAGMENT"},
	IsRepeatable: false,
}

var skipDirective = &Directive{
	Name:        "skip",
	Description: "Directs the executor to skip this field or fragment when the `if` argument is true.",
	Arguments: []*InputValue{
		{
			Name:        "if",
			Description: "Skipped when true.",
			Type:        &TypeRef{Kind: TypeRefKindNonNull, OfType: &TypeRef{Kind: TypeRefKindNamed, Named: "Boolean"}},
		},
	},
	Locations:    []string{"FIELD", "FRAGMENT_SPREAD", "INLINE_FRAGMENT"},
	IsRepeatable: false,
}

var deferDirective = &Directive{
	Name:        "defer",
	Description: "Defers resolution of the tagged fragment, delivering it as a later patch.",
	Arguments: []*InputValue{
		{
			Name:         "if",
			Description:  "Deferred when true.",
			Type:         &TypeRef{Kind: TypeRefKindNonNull, OfType: &TypeRef{Kind: TypeRefKindNamed, Named: "Boolean"}},
			DefaultValue: true,
		},
		{
			Name:        "label",
			Description: "A unique label for this defer, used by clients to identify the associated patch.",
			Type:        &TypeRef{Kind: TypeRefKindNamed, Named: "String"},
		},
	},
	Locations:    []string{"FRAGMENT_SPREAD", "INLINE_FRAGMENT"},
	IsRepeatable: false,
}

var streamDirective = &Directive{
	Name:        "stream",
	Description: "Streams the elements of a list field, delivering each as a later patch.",
	Arguments: []*InputValue{
		{
			Name:         "if",
			Description:  "Streamed when true.",
			Type:         &TypeRef{Kind: TypeRefKindNonNull, OfType: &TypeRef{Kind: TypeRefKindNamed, Named: "Boolean"}},
			DefaultValue: true,
		},
		{
			Name:        "label",
			Description: "A unique label for this stream, used by clients to identify the associated patches.",
			Type:        &TypeRef{Kind: TypeRefKindNamed, Named: "String"},
		},
		{
			Name:         "initialCount",
			Description:  "The number of list elements to return synchronously in the initial result.",
			Type:         &TypeRef{Kind: TypeRefKindNamed, Named: "Int"},
			DefaultValue: 0,
		},
	},
	Locations:    []string{"FIELD"},
	IsRepeatable: false,
}
