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

// Checksum 計算紀錄的 CRC32 校驗和
//
// 涵蓋欄位：Seq + Type + JobID + JobType + Status + Attempt + Error + Timestamp
// Checksum 欄位本身不列入計算
func Checksum(rec Record) uint32 {
	var b strings.Builder
	b.WriteString(strconv.FormatUint(rec.Seq, 10))
	b.WriteByte('|')
	b.WriteString(string(rec.Type))
	b.WriteByte('|')
	b.WriteString(string(rec.JobID))
	b.WriteByte('|')
	b.WriteString(string(rec.JobType))
	b.WriteByte('|')
	b.WriteString(string(rec.Status))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(rec.Attempt))
	b.WriteByte('|')
	b.WriteString(rec.Error)
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(rec.Timestamp, 10))

	return crc32.ChecksumIEEE([]byte(b.String()))
}

// VerifyChecksum 驗證紀錄的校驗和是否正確
func VerifyChecksum(rec Record) bool {
	return rec.Checksum == Checksum(rec)
}
