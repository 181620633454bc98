package ledger

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/ChuLiYu/zerog-bots/pkg/types"
)

// 行格式: wallet_address:referral_code:invite_count\n
const fieldSep = ":"

// Parse 解析帳本內容；空白行略過，其餘格式錯誤回傳 ErrMalformedLedger
func Parse(data []byte) ([]types.ReferralRecord, error) {
	records := make([]types.ReferralRecord, 0)
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Split(line, fieldSep)
		if len(parts) != 3 {
			return nil, fmt.Errorf("%w: line %d: want 3 fields, got %d", ErrMalformedLedger, lineNo, len(parts))
		}

		invites, err := strconv.Atoi(parts[2])
		if err != nil || invites < 0 {
			return nil, fmt.Errorf("%w: line %d: bad invite count %q", ErrMalformedLedger, lineNo, parts[2])
		}
		if parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("%w: line %d: empty field", ErrMalformedLedger, lineNo)
		}

		// 同一個 (wallet, code) 最多出現一次
		key := parts[0] + fieldSep + parts[1]
		if seen[key] {
			return nil, fmt.Errorf("%w: line %d: duplicate record %s", ErrMalformedLedger, lineNo, key)
		}
		seen[key] = true

		records = append(records, types.ReferralRecord{
			Wallet:  parts[0],
			Code:    parts[1],
			Invites: invites,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedLedger, err)
	}
	return records, nil
}

// Format 序列化紀錄，每筆一行
func Format(records []types.ReferralRecord) []byte {
	var buf bytes.Buffer
	for _, r := range records {
		buf.WriteString(r.Wallet)
		buf.WriteString(fieldSep)
		buf.WriteString(r.Code)
		buf.WriteString(fieldSep)
		buf.WriteString(strconv.Itoa(r.Invites))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// validateField 欄位不能為空，也不能包含分隔符或換行
func validateField(name, v string) error {
	if v == "" || strings.ContainsAny(v, fieldSep+"\r\n") {
		return fmt.Errorf("%w: %s %q", ErrInvalidRecord, name, v)
	}
	return nil
}
