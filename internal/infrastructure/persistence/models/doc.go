// Package models contains the GORM persistence models of the billing tables.
// Domain types stay free of ORM tags; repositories convert with ToDomain and
// the XModelFromDomain constructors.
package models
