package provider

import (
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/licensecompact/provider-data/internal/dynamo"
)

func s(value string) *types.AttributeValueMemberS {
	return &types.AttributeValueMemberS{Value: value}
}

func optString(item map[string]types.AttributeValue, attr string) string {
	if v, ok := item[attr].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func optTime(item map[string]types.AttributeValue, attr string) time.Time {
	if v, ok := item[attr].(*types.AttributeValueMemberS); ok {
		if t, err := time.Parse(time.RFC3339, v.Value); err == nil {
			return t
		}
	}
	return time.Time{}
}

func marshalSummary(sum *Summary) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		dynamo.AttrPK:        s(sum.PK()),
		dynamo.AttrSK:        s(sum.SK()),
		dynamo.AttrGSI1PK:    s(summarySK(sum.Compact)),
		dynamo.AttrGSI1SK:    s(sum.NameSortKey()),
		dynamo.AttrGSI2PK:    s(summarySK(sum.Compact)),
		dynamo.AttrGSI2SK:    s(sum.UpdatedSortKey()),
		AttrType:             s(TypeProviderSummary),
		AttrProviderID:       s(sum.ProviderID),
		AttrCompact:          s(sum.Compact),
		AttrGivenName:        s(sum.GivenName),
		AttrFamilyName:       s(sum.FamilyName),
		AttrLicenseJur:       s(sum.LicenseJurisdiction),
		AttrLicenseStatus:    s(sum.LicenseStatus),
		AttrDateOfExpiration: s(sum.DateOfExpiration),
		AttrDateOfUpdate:     s(sum.DateOfUpdate.UTC().Format(time.RFC3339)),
	}
	if sum.MiddleName != "" {
		item[AttrMiddleName] = s(sum.MiddleName)
	}
	if sum.NPI != "" {
		item[AttrNPI] = s(sum.NPI)
	}
	if len(sum.PrivilegeJurisdictions) > 0 {
		item[AttrPrivilegeJurs] = &types.AttributeValueMemberSS{Value: sum.PrivilegeJurisdictions}
	}
	return item
}

func unmarshalSummary(item map[string]types.AttributeValue) *Summary {
	sum := &Summary{
		Compact:             optString(item, AttrCompact),
		ProviderID:          optString(item, AttrProviderID),
		GivenName:           optString(item, AttrGivenName),
		MiddleName:          optString(item, AttrMiddleName),
		FamilyName:          optString(item, AttrFamilyName),
		NPI:                 optString(item, AttrNPI),
		LicenseJurisdiction: optString(item, AttrLicenseJur),
		LicenseStatus:       optString(item, AttrLicenseStatus),
		DateOfExpiration:    optString(item, AttrDateOfExpiration),
		DateOfUpdate:        optTime(item, AttrDateOfUpdate),
	}
	if v, ok := item[AttrPrivilegeJurs].(*types.AttributeValueMemberSS); ok {
		sum.PrivilegeJurisdictions = v.Value
	}
	return sum
}

func marshalLicense(lic *License) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		dynamo.AttrPK:        s(lic.PK()),
		dynamo.AttrSK:        s(lic.SK()),
		AttrType:             s(TypeLicense),
		AttrProviderID:       s(lic.ProviderID),
		AttrCompact:          s(lic.Compact),
		AttrJurisdiction:     s(lic.Jurisdiction),
		AttrLicenseType:      s(lic.LicenseType),
		AttrGivenName:        s(lic.GivenName),
		AttrFamilyName:       s(lic.FamilyName),
		AttrDateOfBirth:      s(lic.DateOfBirth),
		AttrDateOfIssuance:   s(lic.DateOfIssuance),
		AttrDateOfExpiration: s(lic.DateOfExpiration),
		AttrLicenseStatus:    s(lic.LicenseStatus),
		AttrDateOfUpdate:     s(lic.DateOfUpdate.UTC().Format(time.RFC3339)),
	}
	if lic.MiddleName != "" {
		item[AttrMiddleName] = s(lic.MiddleName)
	}
	if lic.LicenseNumber != "" {
		item[AttrLicenseNumber] = s(lic.LicenseNumber)
	}
	if lic.DateOfRenewal != "" {
		item[AttrDateOfRenewal] = s(lic.DateOfRenewal)
	}
	return item
}

func unmarshalLicense(item map[string]types.AttributeValue) *License {
	return &License{
		Compact:          optString(item, AttrCompact),
		ProviderID:       optString(item, AttrProviderID),
		Jurisdiction:     optString(item, AttrJurisdiction),
		LicenseType:      optString(item, AttrLicenseType),
		LicenseNumber:    optString(item, AttrLicenseNumber),
		GivenName:        optString(item, AttrGivenName),
		MiddleName:       optString(item, AttrMiddleName),
		FamilyName:       optString(item, AttrFamilyName),
		DateOfBirth:      optString(item, AttrDateOfBirth),
		DateOfIssuance:   optString(item, AttrDateOfIssuance),
		DateOfRenewal:    optString(item, AttrDateOfRenewal),
		DateOfExpiration: optString(item, AttrDateOfExpiration),
		LicenseStatus:    optString(item, AttrLicenseStatus),
		DateOfUpdate:     optTime(item, AttrDateOfUpdate),
	}
}

func marshalPrivilege(priv *Privilege) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		dynamo.AttrPK:        s(priv.PK()),
		dynamo.AttrSK:        s(priv.SK()),
		AttrType:             s(TypePrivilege),
		AttrProviderID:       s(priv.ProviderID),
		AttrCompact:          s(priv.Compact),
		AttrPrivilegeID:      s(priv.PrivilegeID),
		AttrJurisdiction:     s(priv.Jurisdiction),
		AttrLicenseType:      s(priv.LicenseType),
		AttrLicenseJur:       s(priv.LicenseJurisdiction),
		AttrDateOfIssuance:   s(priv.DateOfIssuance),
		AttrDateOfExpiration: s(priv.DateOfExpiration),
		AttrDateOfUpdate:     s(priv.DateOfUpdate.UTC().Format(time.RFC3339)),
	}
	if priv.AdministratorSetOut {
		item["administratorSetOut"] = &types.AttributeValueMemberBOOL{Value: true}
	}
	return item
}

func unmarshalPrivilege(item map[string]types.AttributeValue) *Privilege {
	priv := &Privilege{
		Compact:             optString(item, AttrCompact),
		ProviderID:          optString(item, AttrProviderID),
		PrivilegeID:         optString(item, AttrPrivilegeID),
		Jurisdiction:        optString(item, AttrJurisdiction),
		LicenseType:         optString(item, AttrLicenseType),
		LicenseJurisdiction: optString(item, AttrLicenseJur),
		DateOfIssuance:      optString(item, AttrDateOfIssuance),
		DateOfExpiration:    optString(item, AttrDateOfExpiration),
		DateOfUpdate:        optTime(item, AttrDateOfUpdate),
	}
	if v, ok := item["administratorSetOut"].(*types.AttributeValueMemberBOOL); ok {
		priv.AdministratorSetOut = v.Value
	}
	return priv
}

func marshalUpdate(upd *Update, fullTier bool) map[string]types.AttributeValue {
	sk := upd.SK()
	if fullTier {
		sk = upd.FullSK()
	}

	item := map[string]types.AttributeValue{
		dynamo.AttrPK:    s(upd.PK()),
		dynamo.AttrSK:    s(sk),
		AttrType:         s(TypeUpdate),
		AttrProviderID:   s(upd.ProviderID),
		AttrCompact:      s(upd.Compact),
		AttrUpdateType:   s(upd.UpdateType),
		AttrDateOfUpdate: s(upd.CreatedAt.UTC().Format(time.RFC3339)),
	}
	if upd.Jurisdiction != "" {
		item[AttrJurisdiction] = s(upd.Jurisdiction)
	}
	if upd.LicenseType != "" {
		item[AttrLicenseType] = s(upd.LicenseType)
	}
	if len(upd.UpdatedValues) > 0 {
		item[AttrUpdatedValues] = stringMapAttr(upd.UpdatedValues)
	}
	if fullTier && len(upd.Previous) > 0 {
		item[AttrPrevious] = stringMapAttr(upd.Previous)
	}
	return item
}

func unmarshalUpdate(item map[string]types.AttributeValue) *Update {
	return &Update{
		Compact:       optString(item, AttrCompact),
		ProviderID:    optString(item, AttrProviderID),
		UpdateType:    optString(item, AttrUpdateType),
		Jurisdiction:  optString(item, AttrJurisdiction),
		LicenseType:   optString(item, AttrLicenseType),
		CreatedAt:     optTime(item, AttrDateOfUpdate),
		UpdatedValues: stringMapValue(item[AttrUpdatedValues]),
		Previous:      stringMapValue(item[AttrPrevious]),
	}
}

func marshalIdentity(ident *Identity) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		dynamo.AttrPK:    s(ident.PK()),
		dynamo.AttrSK:    s(ident.SK()),
		AttrType:         s(TypeIdentity),
		AttrCompact:      s(ident.Compact),
		AttrSSN:          s(ident.ExternalID),
		AttrProviderID:   s(ident.ProviderID),
		AttrDateOfUpdate: s(ident.CreatedAt.UTC().Format(time.RFC3339)),
	}
}

func unmarshalIdentity(item map[string]types.AttributeValue) *Identity {
	return &Identity{
		Compact:    optString(item, AttrCompact),
		ExternalID: optString(item, AttrSSN),
		ProviderID: optString(item, AttrProviderID),
		CreatedAt:  optTime(item, AttrDateOfUpdate),
	}
}

func stringMapAttr(m map[string]string) *types.AttributeValueMemberM {
	value := make(map[string]types.AttributeValue, len(m))
	for k, v := range m {
		value[k] = s(v)
	}
	return &types.AttributeValueMemberM{Value: value}
}

func stringMapValue(av types.AttributeValue) map[string]string {
	m, ok := av.(*types.AttributeValueMemberM)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m.Value))
	for k, v := range m.Value {
		if sv, ok := v.(*types.AttributeValueMemberS); ok {
			out[k] = sv.Value
		}
	}
	return out
}
