package core

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sort"
	"strconv"
)

// JobKeyGenerator はジョブ名とパラメータから JobInstance のキーを生成します。
type JobKeyGenerator interface {
	GenerateKey(jobName string, params JobParameters) string
}

// DefaultJobKeyGenerator は識別用パラメータだけを名前順に並べ、SHA-256 のハッシュを 16 進数で返します。
// 非識別パラメータとパラメータの追加順はキーに影響しません。
type DefaultJobKeyGenerator struct{}

// NewDefaultJobKeyGenerator は DefaultJobKeyGenerator を作成します。
func NewDefaultJobKeyGenerator() *DefaultJobKeyGenerator {
	return &DefaultJobKeyGenerator{}
}

// GenerateKey は JobKeyGenerator インターフェースを実装します。
func (g *DefaultJobKeyGenerator) GenerateKey(jobName string, params JobParameters) string {
	identifying := params.IdentifyingParameters()
	names := identifying.Names()
	sort.Strings(names)

	h := sha256.New()
	writeField(h, jobName)
	for _, name := range names {
		p := identifying.entries[name]
		writeField(h, name)
		writeField(h, string(p.Type))
		writeField(h, p.CanonicalValue())
	}
	return hex.EncodeToString(h.Sum(nil))
}

// 各フィールドは "長さ:値;" の形式で書き込む。
func writeField(h io.Writer, s string) {
	io.WriteString(h, strconv.Itoa(len(s))+":"+s+";")
}
