// Package service contains the application services that sit between the
// delivery layer and the task engine.
package service
