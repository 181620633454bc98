package journal

// ============================================================================
// 校驗和計算
// 職責：計算與驗證日誌紀錄的 CRC32 校驗和
// ============================================================================

import (
	"hash/crc32"
	"strconv"
	"strings"
)

// CalculateChecksum 計算紀錄的 CRC32 校驗和
//
// 校驗範圍：Seq、Type、Account、Wallet、Module、Outcome、TxHash。
// 不包含 Timestamp 與 ID。
func CalculateChecksum(e Entry) uint32 {
	var b strings.Builder
	b.WriteString(strconv.FormatUint(e.Seq, 10))
	for _, s := range []string{
		string(e.Type),
		strconv.Itoa(e.Account),
		e.Wallet,
		e.Module,
		e.Outcome,
		e.TxHash,
	} {
		b.WriteByte('|')
		b.WriteString(s)
	}
	return crc32.ChecksumIEEE([]byte(b.String()))
}

// VerifyChecksum 驗證紀錄的校驗和是否正確
func VerifyChecksum(e Entry) bool {
	return e.Checksum == CalculateChecksum(e)
}
