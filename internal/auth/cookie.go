package auth

// TokenCookie is the cookie the signed token travels in. The login handler
// sets it, the auth middleware and login-status read it, logout clears it.
const TokenCookie = "token"
