package recipe

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// LocationScript 读取当前地址
const LocationScript = "location.href"

// ProbeScript 判断选择器是否存在
func ProbeScript(selector string) string {
	return "!!document.querySelector(" + strconv.Quote(selector) + ")"
}

// CountScript 统计选择器匹配数量
func CountScript(selector string) string {
	return op("query_count", map[string]interface{}{"selector": selector},
		`return document.querySelectorAll(args.selector).length;`)
}

// FillScript 填写输入框或可编辑区域，并触发 input 事件
func FillScript(selector, text string) string {
	return op("fill", map[string]interface{}{"selector": selector, "text": text}, `
const el = document.querySelector(args.selector);
if (!el) throw new Error("element not found: " + args.selector);
el.focus();
if (el.isContentEditable) {
  el.textContent = args.text;
} else {
  const proto = el instanceof HTMLTextAreaElement ? HTMLTextAreaElement.prototype : HTMLInputElement.prototype;
  Object.getOwnPropertyDescriptor(proto, "value").set.call(el, args.text);
}
el.dispatchEvent(new Event("input", { bubbles: true }));
el.dispatchEvent(new Event("change", { bubbles: true }));
return true;`)
}

// ReadValueScript 读取输入框的值或元素文本，元素不存在时返回 null
func ReadValueScript(selector string) string {
	return op("read_value", map[string]interface{}{"selector": selector}, `
const el = document.querySelector(args.selector);
if (!el) return null;
const v = ("value" in el && typeof el.value === "string") ? el.value : el.textContent;
return (v || "").trim();`)
}

// ClickScript 点击元素；text 非空时只点击文本包含 text 的元素
func ClickScript(selector, text string) string {
	return op("click", map[string]interface{}{"selector": selector, "text": text}, `
let el = null;
for (const node of document.querySelectorAll(args.selector)) {
  if (!args.text || (node.textContent || "").includes(args.text)) { el = node; break; }
}
if (!el) throw new Error("element not found: " + args.selector);
el.scrollIntoView({ block: "center" });
el.click();
return true;`)
}

// ClickIfPresentScript 元素存在时点击，不存在也返回 true，用于可能出现的确认弹窗
func ClickIfPresentScript(selector, text string) string {
	return op("click_if_present", map[string]interface{}{"selector": selector, "text": text}, `
for (const node of document.querySelectorAll(args.selector)) {
  if (!args.text || (node.textContent || "").includes(args.text)) { node.click(); return true; }
}
return true;`)
}

// FileCountScript 文件输入框已选中的文件数
func FileCountScript(selector string) string {
	return op("file_count", map[string]interface{}{"selector": selector}, `
const el = document.querySelector(args.selector);
return el && el.files ? el.files.length : 0;`)
}

// TextPresentScript 元素的值或文本中是否包含 text
func TextPresentScript(selector, text string) string {
	return op("text_present", map[string]interface{}{"selector": selector, "text": text}, `
const el = document.querySelector(args.selector);
if (!el) return false;
const v = ("value" in el && typeof el.value === "string" && el.value) ? el.value : (el.textContent || "");
return v.includes(args.text);`)
}

// FirstTextScript 返回第一个存在且有文本的元素的文本，用于识别平台错误提示
func FirstTextScript(selectors ...string) string {
	return op("first_text", map[string]interface{}{"selectors": selectors}, `
for (const sel of args.selectors) {
  const el = document.querySelector(sel);
  const text = el ? (el.textContent || "").trim() : "";
  if (text) return text;
}
return "";`)
}

// scriptTag 脚本头部的操作标记，格式为 /*fu:<op>*/
//
// 标记是脚本约定的一部分：执行失败时 runner 据此记录是哪类操作，
// 壳侧日志同样可以据此归类；JS 引擎把它当作注释忽略。
const scriptTag = "/*fu:"

// ScriptOp 读取脚本头部的操作标记
func ScriptOp(script string) (string, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(script), scriptTag)
	if !ok {
		return "", false
	}
	name, _, ok := strings.Cut(rest, "*/")
	if !ok || name == "" {
		return "", false
	}
	return name, true
}

func op(name string, args map[string]interface{}, body string) string {
	encoded, err := json.Marshal(args)
	if err != nil {
		encoded = []byte("{}")
	}
	return fmt.Sprintf("%s%s*/ (() => { const args = %s;%s\n})()", scriptTag, name, encoded, body)
}
