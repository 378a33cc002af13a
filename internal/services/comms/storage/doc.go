// Package storage defines the persistence contracts for the comms service.
//
// The domain service consumes the domain.Store contract; the queue processor
// additionally needs the lease operations declared here. Implementations live
// in subpackages (sqlite).
package storage
