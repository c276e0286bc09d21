package tools

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

func validatePage(offset, limit *int) error {
	if offset != nil && *offset < 0 {
		return fmt.Errorf("offset must not be negative")
	}
	if limit != nil && (*limit < 1 || *limit > 1000) {
		return fmt.Errorf("limit must be between 1 and 1000")
	}
	return nil
}

// Customer tools

type SwitchCustomerParams struct {
	Customer string `json:"customer"`
}

func (p *SwitchCustomerParams) Validate() error {
	if strings.TrimSpace(p.Customer) == "" {
		return fmt.Errorf("customer is required")
	}
	return nil
}

// Property tools

type ListPropertiesParams struct {
	Customer string `json:"customer,omitempty"`
	Offset   *int   `json:"offset,omitempty"`
	Limit    *int   `json:"limit,omitempty"`
}

func (p *ListPropertiesParams) Validate() error {
	return validatePage(p.Offset, p.Limit)
}

type GetPropertyParams struct {
	Customer   string `json:"customer,omitempty"`
	PropertyID string `json:"propertyId"`
}

func (p *GetPropertyParams) Validate() error {
	if strings.TrimSpace(p.PropertyID) == "" {
		return fmt.Errorf("propertyId is required")
	}
	return nil
}

type PropertyHostnamesParams struct {
	Customer   string `json:"customer,omitempty"`
	PropertyID string `json:"propertyId"`
	Version    *int   `json:"version,omitempty"`
}

func (p *PropertyHostnamesParams) Validate() error {
	if strings.TrimSpace(p.PropertyID) == "" {
		return fmt.Errorf("propertyId is required")
	}
	if p.Version != nil && *p.Version < 1 {
		return fmt.Errorf("version must be at least 1")
	}
	return nil
}

type PropertyActivationsParams struct {
	Customer   string `json:"customer,omitempty"`
	PropertyID string `json:"propertyId"`
}

func (p *PropertyActivationsParams) Validate() error {
	if strings.TrimSpace(p.PropertyID) == "" {
		return fmt.Errorf("propertyId is required")
	}
	return nil
}

// DNS tools

type ListZonesParams struct {
	Customer string `json:"customer,omitempty"`
	Offset   *int   `json:"offset,omitempty"`
	Limit    *int   `json:"limit,omitempty"`
}

func (p *ListZonesParams) Validate() error {
	return validatePage(p.Offset, p.Limit)
}

type GetZoneParams struct {
	Customer string `json:"customer,omitempty"`
	Zone     string `json:"zone"`
}

func (p *GetZoneParams) Validate() error {
	if strings.TrimSpace(p.Zone) == "" {
		return fmt.Errorf("zone is required")
	}
	return nil
}

type RecordSetsParams struct {
	Customer string `json:"customer,omitempty"`
	Zone     string `json:"zone"`
	Offset   *int   `json:"offset,omitempty"`
	Limit    *int   `json:"limit,omitempty"`
}

func (p *RecordSetsParams) Validate() error {
	if strings.TrimSpace(p.Zone) == "" {
		return fmt.Errorf("zone is required")
	}
	return validatePage(p.Offset, p.Limit)
}

// Purge tools

type PurgeParams struct {
	Customer string   `json:"customer,omitempty"`
	Network  string   `json:"network,omitempty"`
	Objects  []string `json:"objects"`
}

func (p *PurgeParams) validateCommon() error {
	if p.Network != "" && p.Network != "staging" && p.Network != "production" {
		return fmt.Errorf("network must be staging or production")
	}
	if len(p.Objects) == 0 {
		return fmt.Errorf("objects is required and cannot be empty")
	}
	for i, o := range p.Objects {
		if strings.TrimSpace(o) == "" {
			return fmt.Errorf("objects[%d] is empty", i)
		}
	}
	return nil
}

// ValidateURLs checks a URL purge: every object must be an absolute
// http(s) URL.
func (p *PurgeParams) ValidateURLs() error {
	if err := p.validateCommon(); err != nil {
		return err
	}
	for i, o := range p.Objects {
		if !strings.HasPrefix(o, "http://") && !strings.HasPrefix(o, "https://") {
			return fmt.Errorf("objects[%d] must be an absolute http(s) URL", i)
		}
	}
	return nil
}

// ValidateCPCodes checks a CP code purge: every object must be numeric.
func (p *PurgeParams) ValidateCPCodes() error {
	if err := p.validateCommon(); err != nil {
		return err
	}
	for i, o := range p.Objects {
		if _, err := strconv.Atoi(o); err != nil {
			return fmt.Errorf("objects[%d] must be a numeric CP code", i)
		}
	}
	return nil
}

// ValidateTags checks a cache-tag purge.
func (p *PurgeParams) ValidateTags() error {
	return p.validateCommon()
}

type PurgeStatusParams struct {
	OperationID string `json:"operationId"`
}

func (p *PurgeStatusParams) Validate() error {
	if _, err := uuid.Parse(p.OperationID); err != nil {
		return fmt.Errorf("invalid operationId: %w", err)
	}
	return nil
}

type TenantOnlyParams struct {
	Customer string `json:"customer,omitempty"`
}

func (p *TenantOnlyParams) Validate() error {
	return nil
}

// Certificate tools

type CertEnrollmentsParams struct {
	Customer string `json:"customer,omitempty"`
}

func (p *CertEnrollmentsParams) Validate() error {
	return nil
}

type CertEnrollmentParams struct {
	Customer     string `json:"customer,omitempty"`
	EnrollmentID int    `json:"enrollmentId"`
}

func (p *CertEnrollmentParams) Validate() error {
	if p.EnrollmentID <= 0 {
		return fmt.Errorf("enrollmentId must be a positive integer")
	}
	return nil
}

type CertDeployParams struct {
	Customer           string   `json:"customer,omitempty"`
	EnrollmentID       int      `json:"enrollmentId"`
	Network            string   `json:"network"`
	AutoLinkProperties []string `json:"autoLinkProperties,omitempty"`
	ParallelLinking    bool     `json:"parallelLinking,omitempty"`
	RollbackOnFailure  bool     `json:"rollbackOnFailure,omitempty"`
}

func (p *CertDeployParams) Validate() error {
	if p.EnrollmentID <= 0 {
		return fmt.Errorf("enrollmentId must be a positive integer")
	}
	if p.Network != "staging" && p.Network != "production" {
		return fmt.Errorf("network must be staging or production")
	}
	for i, id := range p.AutoLinkProperties {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("autoLinkProperties[%d] is empty", i)
		}
	}
	return nil
}

type CertStatusParams struct {
	EnrollmentID int `json:"enrollmentId"`
}

func (p *CertStatusParams) Validate() error {
	if p.EnrollmentID <= 0 {
		return fmt.Errorf("enrollmentId must be a positive integer")
	}
	return nil
}

type CertRollbackParams struct {
	EnrollmentID int `json:"enrollmentId"`
}

func (p *CertRollbackParams) Validate() error {
	if p.EnrollmentID <= 0 {
		return fmt.Errorf("enrollmentId must be a positive integer")
	}
	return nil
}

// Cache tools

type CacheStatsParams struct {
	Customer string `json:"customer,omitempty"`
}

func (p *CacheStatsParams) Validate() error {
	return nil
}

type CacheFlushParams struct {
	Customer string `json:"customer,omitempty"`
	Pattern  string `json:"pattern,omitempty"`
}

func (p *CacheFlushParams) Validate() error {
	return nil
}
