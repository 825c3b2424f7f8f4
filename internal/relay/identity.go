package relay

import "net/url"

// IdentityParam is the handshake query parameter carrying the participant identity.
const IdentityParam = "callerId"

// IdentityFromQuery extracts the participant identity from handshake
// parameters. Only an absent or empty value is refused; any other string,
// whitespace included, is used verbatim.
func IdentityFromQuery(q url.Values) (string, error) {
	identity := q.Get(IdentityParam)
	if identity == "" {
		return "", ErrInvalidIdentity
	}
	return identity, nil
}
