package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Idempotency keys follow "<domain>:<action>:<entityId>[:<subkey>]".

func EarnPointsKey(orderID string) string {
	return fmt.Sprintf("loyalty:earn:%s", orderID)
}

func ReversePointsKey(returnID, orderID, userID string) string {
	return fmt.Sprintf("reverse:return:%s:order:%s:user:%s", returnID, orderID, userID)
}

func AuditKey(domainName, action, entityID string) string {
	return fmt.Sprintf("%s:%s:%s", domainName, action, entityID)
}

const (
	OrderNumberPrefix    = "ORD-"
	AssistedNumberPrefix = "WA-"
	ReturnNumberPrefix   = "RET-"
)

// RandomToken returns n uppercase alphanumerics taken from a fresh uuid.
func RandomToken(n int) string {
	s := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	if n > len(s) {
		n = len(s)
	}
	return s[:n]
}

func NewOrderNumber(ch Channel) string {
	if ch == ChannelAssisted {
		return AssistedNumberPrefix + RandomToken(10)
	}
	return OrderNumberPrefix + RandomToken(10)
}

func NewReturnNumber() string {
	return ReturnNumberPrefix + RandomToken(10)
}
