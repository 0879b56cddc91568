// Package pipeline 实现了应答解析流程的各个阶段以及应答表导入任务的处理。
package pipeline

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/expr-lang/expr"
)

// 超过该长度的算式不做计算。
const maxExpressionLength = 256

// 口语化运算符替换，按顺序执行，长短语在前。
var wordOperators = []struct {
	pattern *regexp.Regexp
	symbol  string
}{
	{regexp.MustCompile(`\bto the power of\b`), "^"},
	{regexp.MustCompile(`\bmultiplied by\b`), "*"},
	{regexp.MustCompile(`\bdivided by\b`), "/"},
	{regexp.MustCompile(`\b(?:modulo|mod)\b`), "%"},
	{regexp.MustCompile(`\bplus\b`), "+"},
	{regexp.MustCompile(`\bminus\b`), "-"},
	{regexp.MustCompile(`\btimes\b`), "*"},
	{regexp.MustCompile(`\bover\b`), "/"},
}

var (
	symbolReplacer = strings.NewReplacer("×", "*", "÷", "/", "**", "^")
	// "3 x 4" 中的 x 视为乘号
	letterTimes = regexp.MustCompile(`([\d)])\s*x\s*([\d(])`)
	// 候选算式片段：只含数字、小数点、括号、空白与运算符
	exprSpan = regexp.MustCompile(`[-+*/^%().\d\s]+`)
	// 至少一个二元运算：数字（或右括号）后接运算符再接数字（或左括号、负号）
	binaryOp = regexp.MustCompile(`[\d)]\s*[-+*/^%]\s*[-(]*\s*\.?\d`)
	// 日期（12/25/1990、2024-01-15）与号码、年份区间（555-1234、2020-2021）
	dateLike      = regexp.MustCompile(`\d+[-/]\d+[-/]\d+`)
	numberRange   = regexp.MustCompile(`\d{3,}-\d{3,}`)
	numberLiteral = regexp.MustCompile(`\d+(?:\.\d*)?|\.\d+`)
)

const (
	spanLeftCutset  = " \t\r\n)*/^%+"
	spanRightCutset = " \t\r\n(-+*/^%."
)

// attachedToText 判断片段是否紧贴字母、数字或时间分隔符，例如 "10:30 - 11:00" 或 "abc1+2"。
func attachedToText(s string, start, end int) bool {
	if start > 0 {
		if r, _ := utf8.DecodeLastRuneInString(s[:start]); isWordRune(r) {
			return true
		}
	}
	if end < len(s) {
		if r, _ := utf8.DecodeRuneInString(s[end:]); isWordRune(r) {
			return true
		}
	}
	return false
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == ':' || r == '_'
}

// extractExpression 返回文本中最长的合法算式片段，找不到时返回空串。
func extractExpression(text string) string {
	s := strings.ToLower(text)
	s = symbolReplacer.Replace(s)
	for _, w := range wordOperators {
		s = w.pattern.ReplaceAllString(s, " "+w.symbol+" ")
	}
	s = letterTimes.ReplaceAllString(s, "$1*$2")

	best := ""
	for _, loc := range exprSpan.FindAllStringIndex(s, -1) {
		raw := s[loc[0]:loc[1]]
		left := strings.TrimLeft(raw, spanLeftCutset)
		span := strings.TrimRight(left, spanRightCutset)
		start := loc[0] + len(raw) - len(left)
		end := start + len(span)

		if !binaryOp.MatchString(span) {
			continue
		}
		if attachedToText(s, start, end) || dateLike.MatchString(span) || numberRange.MatchString(span) {
			continue
		}
		if len(span) > len(best) {
			best = span
		}
	}
	if len(best) > maxExpressionLength {
		return ""
	}
	return best
}

// asFloatLiterals 把整数字面量改写为浮点字面量，避免 expr 的 int64 运算溢出回绕。
func asFloatLiterals(span string) string {
	return numberLiteral.ReplaceAllStringFunc(span, func(lit string) string {
		switch {
		case strings.HasPrefix(lit, "."):
			return "0" + lit
		case strings.HasSuffix(lit, "."):
			return lit + "0"
		case !strings.Contains(lit, "."):
			return lit + ".0"
		}
		return lit
	})
}

// 浮点取模，除数为 0 时得到 NaN。
var arithmeticEnv = map[string]any{
	"fmod": func(a, b float64) float64 { return math.Mod(a, b) },
}

// IsCalculationQuestion 判断文本是否包含可计算的算式，例如 "12 * 7" 或 "what is 5 + 3"。
func IsCalculationQuestion(text string) bool {
	return extractExpression(text) != ""
}

// EvaluateExpression 在 expr 沙箱中计算文本中的算式。
// 无法识别、语法错误、除零或结果为 NaN/Inf 时返回 (0, false)。
func EvaluateExpression(text string) (float64, bool) {
	span := extractExpression(text)
	if span == "" {
		return 0, false
	}
	program, err := expr.Compile(asFloatLiterals(span), expr.Env(arithmeticEnv), expr.Operator("%", "fmod"))
	if err != nil {
		return 0, false
	}
	out, err := expr.Run(program, arithmeticEnv)
	if err != nil {
		return 0, false
	}

	var result float64
	switch v := out.(type) {
	case int:
		result = float64(v)
	case int64:
		result = float64(v)
	case float64:
		result = v
	default:
		return 0, false
	}
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return 0, false
	}
	return result, true
}

// FormatNumber 格式化计算结果，去除浮点误差尾数，例如 0.1+0.2 输出 0.3。
func FormatNumber(n float64) string {
	if math.Abs(n) < 1e15 {
		n = math.Round(n*1e10) / 1e10
	}
	if n == 0 {
		n = 0 // 消除 -0
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}
