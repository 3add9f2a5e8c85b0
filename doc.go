// Package auth is the authentication and authorization layer of the
// storefront: credential storage, HS256 session tokens, identity resolution
// and the single gate every protected route goes through.
//
// Request flow:
//   - A bearer header or the session cookie carries the token. The
//     TokenService verifies signature, issuer, audience and expiry.
//   - The IdentityResolver turns the claims into a UserIdentity. Customers are
//     re-read from the database on every request so the role is always the
//     stored one and a deleted account stops working at once. The configured
//     administrator is synthetic and never stored.
//   - The Gate compares the resolved role against the route requirement.
//     A missing or bad token is 401, a known identity without the role is 403.
//
// Activity sinks:
//   - ActivitySink receives audit events for logins, password changes, role
//     changes and order status moves. Recording is best effort; failures are
//     logged and never reach the caller.
package auth
