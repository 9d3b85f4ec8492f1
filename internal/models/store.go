package models

// StoreIndex mirrors a primary index key (index:{kind}:{name}:{value}) in
// the secondary store.
type StoreIndex struct {
	IndexKey string `gorm:"primaryKey;size:255"`
	EntityID string `gorm:"not null;size:64;index"`
}

// TableName specifies the table name for GORM
func (StoreIndex) TableName() string {
	return "store_indexes"
}

// StoreMembership mirrors one member of a primary set (set:{owner}:{relation}).
type StoreMembership struct {
	SetKey string `gorm:"primaryKey;size:255"`
	Member string `gorm:"primaryKey;size:64"`
}

// TableName specifies the table name for GORM
func (StoreMembership) TableName() string {
	return "store_memberships"
}
