package enums

// ProductStatus is the catalog lifecycle status of a listing.
type ProductStatus string

const (
	ProductStatusActive       ProductStatus = "active"
	ProductStatusDraft        ProductStatus = "draft"
	ProductStatusDiscontinued ProductStatus = "discontinued"
)

// ProductApprovalStatus is the moderation state owned by the catalog.
type ProductApprovalStatus string

const (
	ProductApprovalPending  ProductApprovalStatus = "pending"
	ProductApprovalApproved ProductApprovalStatus = "approved"
	ProductApprovalRejected ProductApprovalStatus = "rejected"
)
