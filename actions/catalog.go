package actions

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/loomwire/loomwire/apperr"
	"github.com/loomwire/loomwire/storage"
)

// Catalog lookups are tenant-scoped and active-only.

func lookupMenuItem(tx *gorm.DB, workspaceID uuid.UUID, skuOrName string) (*storage.MenuItem, error) {
	var item storage.MenuItem
	err := tx.Where("workspace_id = ? AND active = ? AND (sku = ? OR LOWER(name) = LOWER(?))",
		workspaceID, true, skuOrName, skuOrName).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, apperr.NotFoundError(fmt.Sprintf("menu item %q not found", skuOrName))
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func lookupProperty(tx *gorm.DB, workspaceID uuid.UUID, propertyID uuid.UUID) (*storage.Property, error) {
	var prop storage.Property
	err := tx.Where("workspace_id = ? AND id = ?", workspaceID, propertyID).First(&prop).Error
	if err == gorm.ErrRecordNotFound {
		return nil, apperr.NotFoundError(fmt.Sprintf("property %s not found", propertyID))
	}
	if err != nil {
		return nil, err
	}
	if !prop.Available {
		return nil, apperr.NewValidation("property is not available",
			apperr.FieldDiagnostic{Field: "property_id", Message: "property exists but is no longer available"})
	}
	return &prop, nil
}

func lookupServiceType(tx *gorm.DB, workspaceID uuid.UUID, name string) (*storage.ServiceType, error) {
	var svc storage.ServiceType
	err := tx.Where("workspace_id = ? AND active = ? AND LOWER(name) = ?",
		workspaceID, true, strings.ToLower(name)).First(&svc).Error
	if err == gorm.ErrRecordNotFound {
		return nil, apperr.NotFoundError(fmt.Sprintf("service %q not found", name))
	}
	if err != nil {
		return nil, err
	}
	return &svc, nil
}

func listActiveStaff(tx *gorm.DB, workspaceID uuid.UUID) ([]storage.StaffMember, error) {
	var staff []storage.StaffMember
	err := tx.Where("workspace_id = ? AND active = ?", workspaceID, true).
		Order("name ASC").Find(&staff).Error
	return staff, err
}
