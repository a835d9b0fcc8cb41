package billing

import (
	"github.com/google/uuid"
	"github.com/rentbill/backend/internal/domain/shared"
)

// Role is the kind of caller
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleLandlord Role = "landlord"
	RoleTenant   Role = "tenant"
)

// IsValid checks if the role is known
func (r Role) IsValid() bool {
	return r == RoleAdmin || r == RoleLandlord || r == RoleTenant
}

// Identity is the authenticated caller of an operation.
type Identity struct {
	Role       Role
	UserID     uuid.UUID
	LandlordID uuid.UUID
	// TenantID is set for RoleTenant callers
	TenantID uuid.UUID
}

// SystemIdentity is used by scheduled jobs.
func SystemIdentity() Identity {
	return Identity{Role: RoleAdmin}
}

// authorize checks that the caller may see a record owned by landlordID and tenantID.
func (i Identity) authorize(landlordID, tenantID uuid.UUID) error {
	switch i.Role {
	case RoleAdmin:
		return nil
	case RoleLandlord:
		if i.LandlordID == landlordID {
			return nil
		}
	case RoleTenant:
		if i.LandlordID == landlordID && i.TenantID == tenantID && tenantID != uuid.Nil {
			return nil
		}
	}
	return shared.NewDomainError(shared.CodeForbidden, "access to this record is forbidden")
}

// canManage reports whether the caller may change landlord-owned records.
func (i Identity) canManage(landlordID uuid.UUID) error {
	if i.Role == RoleAdmin || (i.Role == RoleLandlord && i.LandlordID == landlordID) {
		return nil
	}
	return shared.NewDomainError(shared.CodeForbidden, "only the landlord may change this record")
}
