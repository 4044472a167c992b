// Package platform selects integration platform clients by provider.
//
// A Registry maps a provider name (the Provider field of a credential
// profile) to a constructor and implements engine.ClientFactory. Provider
// packages such as platform/boomi register themselves with the registry at
// wiring time.
package platform
