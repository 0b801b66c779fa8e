package core

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tigerroll/jobrestart/pkg/batch/util/exception"
)

// ParameterType は JobParameter の値の型を表します。
type ParameterType string

const (
	ParameterTypeString ParameterType = "STRING"
	ParameterTypeLong   ParameterType = "LONG"
	ParameterTypeDouble ParameterType = "DOUBLE"
	ParameterTypeDate   ParameterType = "DATE"
)

// JobParameter は型付きの単一のジョブパラメータです。
// Value の Go の型は Type に応じて string, int64, float64, time.Time のいずれかです。
// Identifying が true のパラメータだけが JobInstance の識別に使われます。
type JobParameter struct {
	Type        ParameterType
	Value       interface{}
	Identifying bool
}

// NewStringParameter は STRING 型のパラメータを作成します。
func NewStringParameter(v string, identifying bool) JobParameter {
	return JobParameter{Type: ParameterTypeString, Value: v, Identifying: identifying}
}

// NewLongParameter は LONG 型のパラメータを作成します。
func NewLongParameter(v int64, identifying bool) JobParameter {
	return JobParameter{Type: ParameterTypeLong, Value: v, Identifying: identifying}
}

// NewDoubleParameter は DOUBLE 型のパラメータを作成します。
func NewDoubleParameter(v float64, identifying bool) JobParameter {
	return JobParameter{Type: ParameterTypeDouble, Value: v, Identifying: identifying}
}

// NewDateParameter は DATE 型のパラメータを作成します。値は UTC で保持されます。
func NewDateParameter(v time.Time, identifying bool) JobParameter {
	return JobParameter{Type: ParameterTypeDate, Value: v.UTC(), Identifying: identifying}
}

// CanonicalValue は値の正規化された文字列表現を返します。
// キー生成と永続化の両方でこの表現が使われます。
func (p JobParameter) CanonicalValue() string {
	switch v := p.Value.(type) {
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Equal は型、値、識別フラグがすべて等しいかどうかを返します。
func (p JobParameter) Equal(o JobParameter) bool {
	return p.Type == o.Type && p.Identifying == o.Identifying && p.CanonicalValue() == o.CanonicalValue()
}

func (p JobParameter) String() string {
	flag := "non-identifying"
	if p.Identifying {
		flag = "identifying"
	}
	return fmt.Sprintf("%s(%s,%s)", p.CanonicalValue(), p.Type, flag)
}

// ParseJobParameter は正規化された文字列表現から JobParameter を復元します。
func ParseJobParameter(t ParameterType, value string, identifying bool) (JobParameter, error) {
	switch t {
	case ParameterTypeString:
		return NewStringParameter(value, identifying), nil
	case ParameterTypeLong:
		v, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return JobParameter{}, fmt.Errorf("%w: LONG 値 '%s' を解析できません: %v", exception.ErrInvalidParameter, value, err)
		}
		return NewLongParameter(v, identifying), nil
	case ParameterTypeDouble:
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return JobParameter{}, fmt.Errorf("%w: DOUBLE 値 '%s' を解析できません: %v", exception.ErrInvalidParameter, value, err)
		}
		return NewDoubleParameter(v, identifying), nil
	case ParameterTypeDate:
		v, err := time.Parse(time.RFC3339Nano, value)
		if err != nil {
			return JobParameter{}, fmt.Errorf("%w: DATE 値 '%s' を解析できません: %v", exception.ErrInvalidParameter, value, err)
		}
		return NewDateParameter(v, identifying), nil
	default:
		return JobParameter{}, fmt.Errorf("%w: 不明なパラメータ型 '%s'", exception.ErrInvalidParameter, t)
	}
}

// JobParameters は名前付きの JobParameter の順序付き集合です。
// 作成後は変更できません。新しい集合は JobParametersBuilder で作成します。
// ゼロ値は空の集合として使えます。
type JobParameters struct {
	names   []string
	entries map[string]JobParameter
}

// NewJobParameters は空の JobParameters を返します。
func NewJobParameters() JobParameters {
	return JobParameters{}
}

// Get は名前に対応するパラメータを返します。見つからない場合は ErrParameterNotFound を返します。
func (p JobParameters) Get(name string) (JobParameter, error) {
	v, ok := p.entries[name]
	if !ok {
		return JobParameter{}, fmt.Errorf("'%s': %w", name, exception.ErrParameterNotFound)
	}
	return v, nil
}

// Contains は名前のパラメータが存在するかどうかを返します。
func (p JobParameters) Contains(name string) bool {
	_, ok := p.entries[name]
	return ok
}

// GetString は STRING 型のパラメータ値を返します。
func (p JobParameters) GetString(name string) (string, bool) {
	v, ok := p.entries[name].Value.(string)
	return v, ok
}

// GetLong は LONG 型のパラメータ値を返します。
func (p JobParameters) GetLong(name string) (int64, bool) {
	v, ok := p.entries[name].Value.(int64)
	return v, ok
}

// GetDouble は DOUBLE 型のパラメータ値を返します。
func (p JobParameters) GetDouble(name string) (float64, bool) {
	v, ok := p.entries[name].Value.(float64)
	return v, ok
}

// GetDate は DATE 型のパラメータ値を返します。
func (p JobParameters) GetDate(name string) (time.Time, bool) {
	v, ok := p.entries[name].Value.(time.Time)
	return v, ok
}

// Len はパラメータ数を返します。
func (p JobParameters) Len() int {
	return len(p.names)
}

// IsEmpty はパラメータが 1 つもなければ true を返します。
func (p JobParameters) IsEmpty() bool {
	return len(p.names) == 0
}

// Names は追加された順にパラメータ名を返します。
func (p JobParameters) Names() []string {
	return append([]string(nil), p.names...)
}

// IdentifyingParameters は識別用のパラメータだけを含む JobParameters を返します。順序は保たれます。
func (p JobParameters) IdentifyingParameters() JobParameters {
	out := JobParameters{entries: make(map[string]JobParameter)}
	for _, name := range p.names {
		if e := p.entries[name]; e.Identifying {
			out.names = append(out.names, name)
			out.entries[name] = e
		}
	}
	return out
}

// Equal は同じ名前の集合を持ち、各パラメータが等しい場合に true を返します。順序は比較しません。
func (p JobParameters) Equal(o JobParameters) bool {
	if p.Len() != o.Len() {
		return false
	}
	for name, e := range p.entries {
		oe, ok := o.entries[name]
		if !ok || !e.Equal(oe) {
			return false
		}
	}
	return true
}

func (p JobParameters) String() string {
	parts := make([]string, 0, len(p.names))
	for _, name := range p.names {
		parts = append(parts, name+"="+p.entries[name].String())
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

type jobParameterJSON struct {
	Name        string        `json:"name"`
	Type        ParameterType `json:"type"`
	Value       string        `json:"value"`
	Identifying bool          `json:"identifying"`
}

// MarshalJSON は追加順を保った配列としてエンコードします。
func (p JobParameters) MarshalJSON() ([]byte, error) {
	out := make([]jobParameterJSON, 0, len(p.names))
	for _, name := range p.names {
		e := p.entries[name]
		out = append(out, jobParameterJSON{Name: name, Type: e.Type, Value: e.CanonicalValue(), Identifying: e.Identifying})
	}
	return json.Marshal(out)
}

// UnmarshalJSON は MarshalJSON の出力から JobParameters を復元します。
func (p *JobParameters) UnmarshalJSON(data []byte) error {
	var in []jobParameterJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	b := NewJobParametersBuilder()
	for _, e := range in {
		param, err := ParseJobParameter(e.Type, e.Value, e.Identifying)
		if err != nil {
			return err
		}
		if err := b.Put(e.Name, param); err != nil {
			return err
		}
	}
	params, err := b.ToJobParameters()
	if err != nil {
		return err
	}
	*p = params
	return nil
}

// JobParametersBuilder は JobParameters を組み立てます。
// Add 系メソッドはチェーンでき、最初に発生したエラーは ToJobParameters で返されます。
type JobParametersBuilder struct {
	names   []string
	entries map[string]JobParameter
	err     error
}

// NewJobParametersBuilder は空のビルダーを作成します。
func NewJobParametersBuilder() *JobParametersBuilder {
	return &JobParametersBuilder{entries: make(map[string]JobParameter)}
}

// NewJobParametersBuilderFrom は既存の JobParameters の内容で初期化されたビルダーを作成します。
func NewJobParametersBuilderFrom(params JobParameters) *JobParametersBuilder {
	b := NewJobParametersBuilder()
	for _, name := range params.names {
		b.names = append(b.names, name)
		b.entries[name] = params.entries[name]
	}
	return b
}

// Put はパラメータを追加します。
// 名前が空の場合は ErrInvalidParameter、既に同じ名前がある場合は ErrDuplicateParameter を返します。
func (b *JobParametersBuilder) Put(name string, param JobParameter) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: パラメータ名が空です", exception.ErrInvalidParameter)
	}
	if _, ok := b.entries[name]; ok {
		return fmt.Errorf("%w: '%s'", exception.ErrDuplicateParameter, name)
	}
	b.names = append(b.names, name)
	b.entries[name] = param
	return nil
}

// Set は同じ名前のパラメータがあれば置き換え、なければ末尾に追加します。
// インクリメンタが run.id などを差し替える場合に使います。
func (b *JobParametersBuilder) Set(name string, param JobParameter) *JobParametersBuilder {
	if _, ok := b.entries[name]; ok {
		b.entries[name] = param
		return b
	}
	b.add(name, param)
	return b
}

func (b *JobParametersBuilder) add(name string, param JobParameter) *JobParametersBuilder {
	if err := b.Put(name, param); err != nil && b.err == nil {
		b.err = err
	}
	return b
}

// AddString は STRING 型のパラメータを追加します。
func (b *JobParametersBuilder) AddString(name, value string, identifying bool) *JobParametersBuilder {
	return b.add(name, NewStringParameter(value, identifying))
}

// AddLong は LONG 型のパラメータを追加します。
func (b *JobParametersBuilder) AddLong(name string, value int64, identifying bool) *JobParametersBuilder {
	return b.add(name, NewLongParameter(value, identifying))
}

// AddDouble は DOUBLE 型のパラメータを追加します。
func (b *JobParametersBuilder) AddDouble(name string, value float64, identifying bool) *JobParametersBuilder {
	return b.add(name, NewDoubleParameter(value, identifying))
}

// AddDate は DATE 型のパラメータを追加します。
func (b *JobParametersBuilder) AddDate(name string, value time.Time, identifying bool) *JobParametersBuilder {
	return b.add(name, NewDateParameter(value, identifying))
}

// ToJobParameters は組み立てた JobParameters を返します。
func (b *JobParametersBuilder) ToJobParameters() (JobParameters, error) {
	if b.err != nil {
		return JobParameters{}, b.err
	}
	out := JobParameters{
		names:   append([]string(nil), b.names...),
		entries: make(map[string]JobParameter, len(b.entries)),
	}
	for k, v := range b.entries {
		out.entries[k] = v
	}
	return out, nil
}
