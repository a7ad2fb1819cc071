// Package jwt issues and verifies the HS256 bearer tokens accepted as the secondary
// authentication path for machine and API clients.
package jwt
