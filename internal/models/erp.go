// Atlas Starke Financial Core - ERP Ingestion and Portfolio Analytics
// Copyright 2026 Fernando Ferreira
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001

/*
erp.go - Raw Upstream ERP Payloads

These structs mirror the ERP wire format field-for-field. Field names are an
external contract (case-sensitive, mixed casing) and must not be "cleaned
up". No semantic interpretation happens here; dates and decimals stay as
strings until the transformer parses them.

Wire conventions:
  - Dates: dd/MM/yyyy (ERP locale), the transformer also accepts ISO 8601
  - Decimals: "1234.56" or locale format "1.234,56"
  - List endpoints: paginated envelope with resultSetMetadata
*/

//nolint:staticcheck // File documentation, not package doc
package models

// AuthRequest is the sign-in request body.
type AuthRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthResponse is the sign-in / refresh response carrying the bearer token.
type AuthResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int    `json:"expiresIn"` // seconds
}

// RefreshRequest is the token refresh request body.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// ResultSetMetadata describes pagination state of a list response.
type ResultSetMetadata struct {
	Count  int `json:"count"`
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// RawDevelopment is one development record as returned by the ERP.
type RawDevelopment struct {
	ID                int    `json:"id"`
	Name              string `json:"name"`
	CompanyBranchCode string `json:"companyBranchCode"`
	CompanyBranchName string `json:"companyBranchName"`
	CostCenterID      int    `json:"costCenterId"`
	ProjectID         int    `json:"projectId"`
}

// RawDevelopmentList is the paginated list-developments envelope.
type RawDevelopmentList struct {
	Results           []RawDevelopment  `json:"results"`
	ResultSetMetadata ResultSetMetadata `json:"resultSetMetadata"`
}

// RawContract is one sale contract as returned by the ERP.
type RawContract struct {
	ID                int    `json:"id"`
	EnterpriseID      int    `json:"enterpriseId"`
	CustomerName      string `json:"customerName"`
	CustomerDocument  string `json:"customerDocument"`
	TotalSellingValue string `json:"totalSellingValue"`
	Situation         string `json:"situation"`
	ContractDate      string `json:"contractDate"` // dd/MM/yyyy
}

// RawContractList is the paginated list-contracts envelope.
type RawContractList struct {
	Results           []RawContract     `json:"results"`
	ResultSetMetadata ResultSetMetadata `json:"resultSetMetadata"`
}

// RawInstallment is one receivable installment as returned by the ERP.
// PaymentDate and PaidValue are empty for open installments.
type RawInstallment struct {
	ID            int    `json:"id"`
	ContractID    int    `json:"contractId"`
	ConditionType string `json:"conditionTypeId"`
	OriginalValue string `json:"originalValue"`
	DueDate       string `json:"dueDate"`
	PaymentDate   string `json:"paymentDate,omitempty"`
	PaidValue     string `json:"paidValue,omitempty"`
	Situation     string `json:"situation"`
	Cancelled     bool   `json:"cancelled"`
}

// RawInstallmentList is the paginated list-installments envelope.
type RawInstallmentList struct {
	Results           []RawInstallment  `json:"results"`
	ResultSetMetadata ResultSetMetadata `json:"resultSetMetadata"`
}

// RawInvoice is one payable invoice installment as returned by the ERP.
// The source only exposes budgeted (forecast) payables; there is no settled
// counterpart on this endpoint.
type RawInvoice struct {
	ID                       int    `json:"id"`
	DocumentIdentificationID string `json:"documentIdentificationId"`
	InstallmentNumber        int    `json:"installmentNumber"`
	CostCenterID             int    `json:"costCenterId"`
	OriginalValue            string `json:"originalValue"`
	DueDate                  string `json:"dueDate"`
}

// RawInvoiceList is the paginated list-payable-invoices envelope.
type RawInvoiceList struct {
	Results           []RawInvoice      `json:"results"`
	ResultSetMetadata ResultSetMetadata `json:"resultSetMetadata"`
}
