package vector

import "github.com/google/uuid"

// ObjectNamespace 对象向量 ID 的 UUIDv5 命名空间
var ObjectNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://devtrail.dev/canonical-object"))

// ObjectUUID 由对象标识确定性地推导向量 ID(UUIDv5, SHA-1)
func ObjectUUID(objectID string) string {
	return uuid.NewSHA1(ObjectNamespace, []byte(objectID)).String()
}
