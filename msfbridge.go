// Package msfbridge exposes the Metasploit Framework console as a set of
// structured, callable operations for MCP clients.
package msfbridge

// Version is the msfbridge release version.
const Version = "0.4.0"
