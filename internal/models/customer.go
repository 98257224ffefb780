package models

// Customer is the subset of the customers table the reconciler reads.
// FolderName is the storage folder key and may be stale relative to Name.
type Customer struct {
	ID         int64   `gorm:"primaryKey" json:"id"`
	Name       string  `gorm:"size:255" json:"name"`
	Phone      string  `gorm:"size:32" json:"phone,omitempty"`
	FolderName *string `gorm:"column:folder_name;size:255;index" json:"folder_name"`
}

func (Customer) TableName() string {
	return "customers"
}
