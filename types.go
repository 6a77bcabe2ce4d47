package vipps

import (
	"fmt"
	"net/mail"
	"strings"
)

// DiscoveryDocument represents the subset of the OpenID Connect provider
// metadata the pipeline consumes. Only the userinfo endpoint is required;
// the other fields pass through unvalidated.
type DiscoveryDocument struct {
	UserinfoEndpoint      string `json:"userinfo_endpoint"`
	AuthorizationEndpoint string `json:"authorization_endpoint,omitempty"`
	TokenEndpoint         string `json:"token_endpoint,omitempty"`
	Issuer                string `json:"issuer,omitempty"`
}

// Address is the Vipps postal address claim
type Address struct {
	AddressType   string `json:"address_type,omitempty"`
	Country       string `json:"country,omitempty"`
	Formatted     string `json:"formatted,omitempty"`
	PostalCode    string `json:"postal_code,omitempty"`
	Region        string `json:"region,omitempty"`
	StreetAddress string `json:"street_address,omitempty"`
}

// ConsentLinks holds the terms and privacy statement links shown to the user
// during first-login consent.
type ConsentLinks struct {
	TermsLinkText            string `json:"termsLinkText,omitempty"`
	TermsLinkURL             string `json:"termsLinkUrl,omitempty"`
	PrivacyStatementLinkText string `json:"privacyStatementLinkText,omitempty"`
	PrivacyStatementLinkURL  string `json:"privacyStatementLinkUrl,omitempty"`
}

// Consent is a single data-sharing consent the user accepted or declined
type Consent struct {
	ID                  string `json:"id,omitempty"`
	Accepted            bool   `json:"accepted,omitempty"`
	Required            bool   `json:"required,omitempty"`
	TextDisplayedToUser string `json:"textDisplayedToUser,omitempty"`
}

// DelegatedConsents describes the data-sharing consents the user accepted on
// first login. Vipps only includes it on the first login for a client; its
// absence on subsequent logins is expected.
type DelegatedConsents struct {
	Language                 string        `json:"language,omitempty"`
	Heading                  string        `json:"heading,omitempty"`
	TermsDescription         string        `json:"termsDescription,omitempty"`
	ConfirmConsentButtonText string        `json:"confirmConsentButtonText,omitempty"`
	Links                    *ConsentLinks `json:"links,omitempty"`
	TimeOfConsent            string        `json:"timeOfConsent,omitempty"`
	Consents                 []Consent     `json:"consents,omitempty"`
}

// UserInfo is the normalized user profile returned by the userinfo pipeline.
// Sub, Email, EmailVerified and Name are always present on a validated
// profile; the remaining fields depend on the granted scopes.
type UserInfo struct {
	// SID is the provider session ID, not always present
	SID string `json:"sid,omitempty"`

	// Sub is the stable subject identifier for the user
	Sub string `json:"sub"`

	// Email is the user's email address
	Email string `json:"email"`

	// EmailVerified indicates if the email is verified
	EmailVerified bool `json:"email_verified"`

	// Name is the user's full name
	Name string `json:"name"`

	// GivenName is the user's first name
	GivenName string `json:"given_name,omitempty"`

	// FamilyName is the user's last name
	FamilyName string `json:"family_name,omitempty"`

	// PhoneNumber is the user's phone number in MSISDN format
	PhoneNumber string `json:"phone_number,omitempty"`

	// PhoneNumberVerified indicates if the phone number is verified
	PhoneNumberVerified bool `json:"phone_number_verified,omitempty"`

	// Address is the user's default address
	Address *Address `json:"address,omitempty"`

	// OtherAddresses lists the user's additional addresses
	OtherAddresses []Address `json:"other_addresses,omitempty"`

	// DelegatedConsents is only present on the user's first login
	DelegatedConsents *DelegatedConsents `json:"delegatedConsents,omitempty"`
}

// discoveryClaims is the wire shape of a discovery document before
// validation. Required fields are pointers so a missing field is
// distinguishable from an empty one.
type discoveryClaims struct {
	UserinfoEndpoint      *string `json:"userinfo_endpoint"`
	AuthorizationEndpoint string  `json:"authorization_endpoint"`
	TokenEndpoint         string  `json:"token_endpoint"`
	Issuer                string  `json:"issuer"`
}

// validate checks the discovery schema: userinfo_endpoint must be present as
// a string. An empty string is valid; endpoint fallback handles it later.
func (c *discoveryClaims) validate() error {
	if c.UserinfoEndpoint == nil {
		return fmt.Errorf("missing required field %q", "userinfo_endpoint")
	}
	return nil
}

// document builds the validated DiscoveryDocument
func (c *discoveryClaims) document() *DiscoveryDocument {
	return &DiscoveryDocument{
		UserinfoEndpoint:      *c.UserinfoEndpoint,
		AuthorizationEndpoint: c.AuthorizationEndpoint,
		TokenEndpoint:         c.TokenEndpoint,
		Issuer:                c.Issuer,
	}
}

// userinfoClaims is the wire shape of a userinfo response before validation.
// Required fields are pointers so a missing field is distinguishable from a
// zero value. Unknown provider fields are dropped by construction.
type userinfoClaims struct {
	SID                 string             `json:"sid"`
	Sub                 *string            `json:"sub"`
	Email               *string            `json:"email"`
	EmailVerified       *bool              `json:"email_verified"`
	Name                *string            `json:"name"`
	GivenName           string             `json:"given_name"`
	FamilyName          string             `json:"family_name"`
	PhoneNumber         string             `json:"phone_number"`
	PhoneNumberVerified bool               `json:"phone_number_verified"`
	Address             *Address           `json:"address"`
	OtherAddresses      []Address          `json:"other_addresses"`
	DelegatedConsents   *DelegatedConsents `json:"delegatedConsents"`
}

// validate checks the userinfo schema: sub, email, email_verified and name
// must be present, and email must be a syntactically valid address.
func (c *userinfoClaims) validate() error {
	var missing []string
	if c.Sub == nil {
		missing = append(missing, "sub")
	}
	if c.Email == nil {
		missing = append(missing, "email")
	}
	if c.EmailVerified == nil {
		missing = append(missing, "email_verified")
	}
	if c.Name == nil {
		missing = append(missing, "name")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}
	if _, err := mail.ParseAddress(*c.Email); err != nil {
		return fmt.Errorf("invalid email address %q", *c.Email)
	}
	return nil
}

// userInfo builds the normalized UserInfo from validated claims
func (c *userinfoClaims) userInfo() *UserInfo {
	return &UserInfo{
		SID:                 c.SID,
		Sub:                 *c.Sub,
		Email:               *c.Email,
		EmailVerified:       *c.EmailVerified,
		Name:                *c.Name,
		GivenName:           c.GivenName,
		FamilyName:          c.FamilyName,
		PhoneNumber:         c.PhoneNumber,
		PhoneNumberVerified: c.PhoneNumberVerified,
		Address:             c.Address,
		OtherAddresses:      c.OtherAddresses,
		DelegatedConsents:   c.DelegatedConsents,
	}
}
