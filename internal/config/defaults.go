package config

// DefaultDashboardPort is the externally reachable hub dashboard port.
const DefaultDashboardPort = 7962

// DefaultInternalPort is the loopback-only hub control API port.
const DefaultInternalPort = 7963

// DefaultSessionPort is where session servers start scanning for a free port.
const DefaultSessionPort = 7964
