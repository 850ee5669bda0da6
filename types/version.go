package types

// Version is the canonical project version.
const Version = "0.3.0"

// UserAgent is sent on every outbound request.
const UserAgent = "gatehouse/" + Version
