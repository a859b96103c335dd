package memory

import "errors"

var (
	errProjectExists = errors.New("project already exists")
	errAuditExists   = errors.New("audit result already exists")
)
