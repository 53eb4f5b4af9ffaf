package session

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ew384/social-auto-upload-sub000/internal/credential"
	"github.com/ew384/social-auto-upload-sub000/internal/platform/browser"
	"github.com/ew384/social-auto-upload-sub000/internal/types"
)

// Entry 凭证与标签页的绑定
type Entry struct {
	CredentialID string
	TabID        string
	CookiePath   string
	CurrentURL   string // 缓存值，可能已过期
	CreatedAt    time.Time
	LastUsed     time.Time
}

// Registry 本进程内 credentialID -> tabID 的权威映射
//
// 互斥锁只在内存操作期间持有，从不跨越壳调用。
type Registry struct {
	mu     sync.Mutex
	byCred map[string]Entry
	byTab  map[string]string
}

// NewRegistry 创建空的注册表
func NewRegistry() *Registry {
	return &Registry{
		byCred: make(map[string]Entry),
		byTab:  make(map[string]string),
	}
}

// Lookup 查找凭证绑定的标签页
func (r *Registry) Lookup(credentialID string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byCred[credentialID]
	return e, ok
}

// Bind 绑定凭证与标签页
//
// 凭证已绑定其他标签页，或标签页已属于其他凭证时返回 AlreadyBound；
// 重复绑定同一对是幂等的。
func (r *Registry) Bind(credentialID, tabID, cookiePath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.byCred[credentialID]; ok {
		if e.TabID == tabID {
			return nil
		}
		return &types.Error{Kind: types.KindAlreadyBound, Op: "bind", Message: fmt.Sprintf("credential %s already bound to tab %s", credentialID, e.TabID)}
	}
	if owner, ok := r.byTab[tabID]; ok && owner != credentialID {
		return &types.Error{Kind: types.KindAlreadyBound, Op: "bind", Message: fmt.Sprintf("tab %s belongs to credential %s", tabID, owner)}
	}

	now := time.Now()
	r.byCred[credentialID] = Entry{
		CredentialID: credentialID,
		TabID:        tabID,
		CookiePath:   cookiePath,
		CreatedAt:    now,
		LastUsed:     now,
	}
	r.byTab[tabID] = credentialID
	return nil
}

// Evict 移除绑定，不关闭标签页
func (r *Registry) Evict(credentialID string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byCred[credentialID]
	if !ok {
		return Entry{}, false
	}
	delete(r.byCred, credentialID)
	delete(r.byTab, e.TabID)
	return e, true
}

// Touch 更新最近使用时间与缓存地址
func (r *Registry) Touch(credentialID, currentURL string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byCred[credentialID]
	if !ok {
		return
	}
	e.LastUsed = time.Now()
	if currentURL != "" {
		e.CurrentURL = currentURL
	}
	r.byCred[credentialID] = e
}

// Snapshot 当前全部绑定，按凭证 ID 排序
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(r.byCred))
	for _, e := range r.byCred {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CredentialID < out[j].CredentialID })
	return out
}

// Len 绑定数量
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byCred)
}

// ReconcileResult 对齐结果
type ReconcileResult struct {
	Kept       []Entry           // 对齐后注册表中的绑定
	Duplicates []browser.TabInfo // 同一凭证的多余标签页，调用方负责关闭
	Unknown    []browser.TabInfo // 凭证文件不在本地存储中的标签页，不纳入注册表
}

// Reconcile 按壳的标签页列表重建映射
//
// known 为本地凭证文件路径到凭证 ID 的映射。同一凭证对应多个标签页时，
// 优先保留注册表中已有的那个，其次保留最近使用的，都无法判断时保留列表中最后一个。
func (r *Registry) Reconcile(tabs []browser.TabInfo, known map[string]string) ReconcileResult {
	return r.ReconcileAt(tabs, known, time.Time{})
}

// ReconcileAt 与 Reconcile 相同，taken 为获取标签页列表的时间
//
// taken 之后才绑定的条目不在列表里，原样保留。
func (r *Registry) ReconcileAt(tabs []browser.TabInfo, known map[string]string, taken time.Time) ReconcileResult {
	lookup := make(map[string]string, len(known))
	for path, id := range known {
		lookup[filepath.Clean(path)] = id
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var result ReconcileResult
	groups := make(map[string][]browser.TabInfo)
	order := make([]string, 0)
	for _, tab := range tabs {
		if tab.CookieFile == "" {
			result.Unknown = append(result.Unknown, tab)
			continue
		}
		id, ok := lookup[filepath.Clean(tab.CookieFile)]
		if !ok {
			result.Unknown = append(result.Unknown, tab)
			continue
		}
		if _, seen := groups[id]; !seen {
			order = append(order, id)
		}
		groups[id] = append(groups[id], tab)
	}

	byCred := make(map[string]Entry, len(groups))
	byTab := make(map[string]string, len(groups))
	for _, id := range order {
		group := groups[id]
		keep := pickKeeper(group, r.byCred[id].TabID)
		for i, tab := range group {
			if i != keep {
				result.Duplicates = append(result.Duplicates, tab)
			}
		}

		tab := group[keep]
		entry, existed := r.byCred[id]
		if !existed || entry.TabID != tab.TabID {
			entry = Entry{CredentialID: id, TabID: tab.TabID, CreatedAt: time.Now(), LastUsed: tab.LastUsed}
			if entry.LastUsed.IsZero() {
				entry.LastUsed = entry.CreatedAt
			}
		}
		entry.CookiePath = tab.CookieFile
		entry.CurrentURL = tab.CurrentURL
		byCred[id] = entry
		byTab[tab.TabID] = id
		result.Kept = append(result.Kept, entry)
	}

	// 尚未加载过 Cookie 的标签页（刚创建或正在登录）仍归原凭证所有
	present := make(map[string]browser.TabInfo, len(tabs))
	for _, tab := range tabs {
		present[tab.TabID] = tab
	}
	for id, entry := range r.byCred {
		if _, kept := byCred[id]; kept {
			continue
		}
		if _, owned := byTab[entry.TabID]; owned {
			continue
		}
		tab, ok := present[entry.TabID]
		if !ok {
			if !taken.IsZero() && entry.CreatedAt.After(taken) {
				byCred[id] = entry
				byTab[entry.TabID] = id
				result.Kept = append(result.Kept, entry)
			}
			continue
		}
		if tab.CookieFile != "" {
			continue
		}
		entry.CurrentURL = tab.CurrentURL
		byCred[id] = entry
		byTab[tab.TabID] = id
		result.Kept = append(result.Kept, entry)
	}

	r.byCred = byCred
	r.byTab = byTab
	return result
}

// Adopt 在壳的标签页中为单个凭证找回标签页并绑定
//
// 只处理 cookiePath 对应且不属于其他凭证的标签页，其他凭证的绑定不受影响。
// 返回保留的条目与需要调用方关闭的多余标签页。
func (r *Registry) Adopt(credentialID, cookiePath string, tabs []browser.TabInfo) (Entry, []browser.TabInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byCred[credentialID]; ok {
		return Entry{}, nil, false
	}
	var candidates []browser.TabInfo
	for _, tab := range tabs {
		if !credential.SamePath(tab.CookieFile, cookiePath) {
			continue
		}
		if owner, ok := r.byTab[tab.TabID]; ok && owner != credentialID {
			continue
		}
		candidates = append(candidates, tab)
	}
	if len(candidates) == 0 {
		return Entry{}, nil, false
	}

	keep := pickKeeper(candidates, "")
	var extras []browser.TabInfo
	for i, tab := range candidates {
		if i != keep {
			extras = append(extras, tab)
		}
	}
	tab := candidates[keep]
	now := time.Now()
	entry := Entry{
		CredentialID: credentialID,
		TabID:        tab.TabID,
		CookiePath:   tab.CookieFile,
		CurrentURL:   tab.CurrentURL,
		CreatedAt:    now,
		LastUsed:     tab.LastUsed,
	}
	if entry.LastUsed.IsZero() {
		entry.LastUsed = now
	}
	r.byCred[credentialID] = entry
	r.byTab[tab.TabID] = credentialID
	return entry, extras, true
}

func pickKeeper(group []browser.TabInfo, registered string) int {
	if registered != "" {
		for i, tab := range group {
			if tab.TabID == registered {
				return i
			}
		}
	}
	keep := len(group) - 1
	for i, tab := range group {
		if tab.LastUsed.IsZero() {
			continue
		}
		if group[keep].LastUsed.IsZero() || tab.LastUsed.After(group[keep].LastUsed) {
			keep = i
		}
	}
	return keep
}
