// Package dynamo provides shared DynamoDB constants and utilities.
package dynamo

const (
	// Primary key attributes.
	AttrPK = "pk"
	AttrSK = "sk"

	// Key prefixes.
	PrefixProvider = "PROVIDER#"
	PrefixIdentity = "SSN#"
	PrefixNotify   = "NOTIF#"
	PrefixRate     = "RATE#"

	// TTL attribute.
	AttrTTL = "ttl"

	// GSI partition/sort key attributes.
	AttrGSI1PK = "gsi1pk"
	AttrGSI1SK = "gsi1sk"
	AttrGSI2PK = "gsi2pk"
	AttrGSI2SK = "gsi2sk"

	// Index names. GSI1 sorts providers by family/given name,
	// GSI2 by date of last update.
	IndexName    = "gsi1"
	IndexUpdated = "gsi2"
)
