package enums

// AuditOperation is the verb recorded by the audit sink.
type AuditOperation string

const (
	AuditOperationCreate  AuditOperation = "create"
	AuditOperationUpdate  AuditOperation = "update"
	AuditOperationReserve AuditOperation = "reserve"
	AuditOperationRelease AuditOperation = "release"
	AuditOperationConsume AuditOperation = "consume"
	AuditOperationConfirm AuditOperation = "confirm"
	AuditOperationCancel  AuditOperation = "cancel"
	AuditOperationFail    AuditOperation = "fail"
)

var validAuditOperations = []AuditOperation{
	AuditOperationCreate,
	AuditOperationUpdate,
	AuditOperationReserve,
	AuditOperationRelease,
	AuditOperationConsume,
	AuditOperationConfirm,
	AuditOperationCancel,
	AuditOperationFail,
}

func (o AuditOperation) IsValid() bool {
	for _, candidate := range validAuditOperations {
		if candidate == o {
			return true
		}
	}
	return false
}
