package types

// Version is the canonical project version.
// The bridge protocol and the flash_completed event carry it as their
// contract version.
const Version = "0.3.0"
