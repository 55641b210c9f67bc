package oauth

// OpenIDConfiguration is the OpenID Connect discovery document
type OpenIDConfiguration struct {
	Issuer                        string   `json:"issuer"`
	AuthorizationEndpoint         string   `json:"authorization_endpoint"`
	TokenEndpoint                 string   `json:"token_endpoint"`
	JWKSUri                       string   `json:"jwks_uri"`
	UserinfoEndpoint              string   `json:"userinfo_endpoint,omitempty"`
	RevocationEndpoint            string   `json:"revocation_endpoint,omitempty"`
	ResponseTypesSupported        []string `json:"response_types_supported"`
	SubjectTypesSupported         []string `json:"subject_types_supported"`
	IDTokenSigningAlgValues       []string `json:"id_token_signing_alg_values_supported"`
	ScopesSupported               []string `json:"scopes_supported"`
	TokenEndpointAuthMethods      []string `json:"token_endpoint_auth_methods_supported"`
	ClaimsSupported               []string `json:"claims_supported"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported"`
	GrantTypesSupported           []string `json:"grant_types_supported"`
	ResponseModesSupported        []string `json:"response_modes_supported"`
}

// DiscoveryDocument builds the configuration advertised at
// /.well-known/openid-configuration for this deployment.
func DiscoveryDocument(baseURL string) OpenIDConfiguration {
	return OpenIDConfiguration{
		Issuer:                baseURL,
		AuthorizationEndpoint: baseURL + "/oauth2/authorize",
		TokenEndpoint:         baseURL + "/oauth2/token",
		JWKSUri:               baseURL + "/.well-known/jwks.json",
		UserinfoEndpoint:      baseURL + "/oauth2/userinfo",
		RevocationEndpoint:    baseURL + "/oauth2/revoke",

		ResponseTypesSupported: []string{"code"},
		SubjectTypesSupported:  []string{"public"},

		IDTokenSigningAlgValues: []string{"RS256"},

		ScopesSupported: []string{
			"openid",
			"profile",
			"email",
			"offline_access",
		},

		TokenEndpointAuthMethods: []string{
			"client_secret_basic",
			"client_secret_post",
			"none",
		},

		ClaimsSupported: []string{
			"sub",
			"iss",
			"aud",
			"exp",
			"iat",
			"auth_time",
			"email",
			"email_verified",
			"name",
		},

		CodeChallengeMethodsSupported: []string{
			ChallengeMethodS256,
			ChallengeMethodPlain,
		},

		GrantTypesSupported: []string{
			"authorization_code",
			"refresh_token",
			"client_credentials",
		},

		ResponseModesSupported: []string{"query"},
	}
}
