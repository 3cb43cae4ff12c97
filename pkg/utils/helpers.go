package utils

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"

	"gorm.io/datatypes"
)

// CalculateMD5 computes the MD5 hash of a byte slice.
func CalculateMD5(data []byte) string {
	hasher := md5.New()
	hasher.Write(data)
	return hex.EncodeToString(hasher.Sum(nil))
}

// ToJSON 把任意值编码为 datatypes.JSON，编码失败时返回 JSON null
func ToJSON(v any) datatypes.JSON {
	data, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("null")
	}
	return datatypes.JSON(data)
}
