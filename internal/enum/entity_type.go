package enum

type EntityType string

const (
	USER             EntityType = "USER"
	CUSTOMER         EntityType = "CUSTOMER"
	MESSAGE_CATEGORY EntityType = "MESSAGE_CATEGORY"
	BLACKLIST        EntityType = "BLACKLIST"
	MAILBOX          EntityType = "MAILBOX"
)

func (entityType EntityType) String() string {
	return string(entityType)
}

func GetEntityType(s string) EntityType {
	return EntityType(s)
}
