// Package store defines the persistence contracts the task engine depends
// on, independent of any concrete database. Implementations live under
// internal/platform.
package store
