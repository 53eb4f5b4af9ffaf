package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ew384/social-auto-upload-sub000/internal/platform/recipe"
	"github.com/ew384/social-auto-upload-sub000/internal/types"
	"github.com/ew384/social-auto-upload-sub000/internal/utils"
	"github.com/ew384/social-auto-upload-sub000/internal/utils/retry"

	"github.com/tidwall/gjson"
)

// stepRun 单个步骤的执行上下文
type stepRun struct {
	rn       *Runner
	ctx      context.Context
	tabID    string
	recipe   *recipe.Recipe
	step     recipe.Step
	deadline time.Time
	report   func(types.Progress)
	retried  bool // 每个步骤只允许一次瞬时错误重试
}

func (rn *Runner) runStep(ctx context.Context, tabID string, r *recipe.Recipe, step recipe.Step, report func(types.Progress)) error {
	s := &stepRun{
		rn:       rn,
		ctx:      ctx,
		tabID:    tabID,
		recipe:   r,
		step:     step,
		deadline: rn.now().Add(step.EffectiveTimeout()),
		report:   report,
	}

	var err error
	switch step.Kind {
	case recipe.StepNavigate:
		err = s.navigate()
	case recipe.StepSetFile:
		err = s.setFile()
	case recipe.StepWaitSelector:
		err = s.waitSelector()
	case recipe.StepFillText:
		err = s.fillText()
	case recipe.StepClick:
		err = s.click()
	case recipe.StepWaitURL:
		err = s.waitURL()
	case recipe.StepObserveState:
		err = s.observe()
	default:
		err = types.NewInvalidRequest("unknown step kind %q", step.Kind)
	}
	if err != nil {
		return types.WithStep(err, step.Name)
	}
	return nil
}

// call 执行一次壳调用；瞬时错误在本步骤内最多重试一次
func (s *stepRun) call(op func() (gjson.Result, error)) (gjson.Result, error) {
	cfg := retry.Once(s.rn.options.PollInterval, func(err error) bool {
		if s.retried || !types.IsTransient(err) {
			return false
		}
		s.retried = true
		return true
	})
	cfg.OnRetry = func(_ int, _ time.Duration, err error) {
		utils.WarnWithPlatform(s.recipe.Platform.String(), fmt.Sprintf("[-] 步骤 %s 壳调用失败，重试一次: %v", s.step.Name, err))
	}
	return retry.DoWithResult(s.ctx, cfg, op)
}

func (s *stepRun) exec(script string) (gjson.Result, error) {
	res, err := s.call(func() (gjson.Result, error) {
		return s.rn.shell.Execute(s.ctx, s.tabID, script)
	})
	if err != nil {
		if name, ok := recipe.ScriptOp(script); ok {
			utils.DebugWithPlatform(s.recipe.Platform.String(), fmt.Sprintf("[-] 步骤 %s 的 %s 脚本执行失败: %v", s.step.Name, name, err))
		}
	}
	return res, err
}

func (s *stepRun) do(op func() error) error {
	_, err := s.call(func() (gjson.Result, error) {
		return gjson.Result{}, op()
	})
	return err
}

// poll 在截止时间前反复执行 check，同时检查平台错误提示
func (s *stepRun) poll(check func() (bool, error)) error {
	return s.pollUntil(s.deadline, check)
}

func (s *stepRun) pollUntil(deadline time.Time, check func() (bool, error)) error {
	for {
		ok, err := check()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if err := s.checkRejected(); err != nil {
			return err
		}
		if !s.rn.now().Before(deadline) {
			return types.NewStepTimeout(s.step.Name)
		}
		if err := s.sleep(); err != nil {
			return err
		}
	}
}

func (s *stepRun) checkRejected() error {
	if s.step.RejectScript == "" {
		return nil
	}
	res, err := s.exec(s.step.RejectScript)
	if err != nil {
		return err
	}
	if msg := strings.TrimSpace(res.String()); msg != "" {
		return &rejection{step: s.step.Name, message: msg}
	}
	return nil
}

func (s *stepRun) sleep() error {
	timer := time.NewTimer(s.rn.options.PollInterval)
	defer timer.Stop()
	select {
	case <-s.ctx.Done():
		return types.NewCancelled(s.step.Name, s.ctx.Err())
	case <-timer.C:
		return nil
	}
}

func (s *stepRun) location() (string, error) {
	res, err := s.exec(recipe.LocationScript)
	if err != nil {
		return "", err
	}
	return res.String(), nil
}

func (s *stepRun) navigate() error {
	if err := s.do(func() error { return s.rn.shell.Navigate(s.ctx, s.tabID, s.step.URL) }); err != nil {
		return err
	}
	target := strings.TrimSuffix(stripScheme(s.step.URL), "/")
	return s.poll(func() (bool, error) {
		href, err := s.location()
		if err != nil {
			return false, err
		}
		if s.recipe.IsLoginURL(href) && !recipe.IsBlankURL(href) {
			return false, &types.Error{Kind: types.KindCredentialStale, Op: "navigate", Message: "redirected to login page " + href}
		}
		return strings.Contains(href, target), nil
	})
}

// setFile 优先由壳直接给输入框赋值；不支持时打开系统文件选择框并等待人工选择
func (s *stepRun) setFile() error {
	err := s.do(func() error {
		return s.rn.shell.SetFileInput(s.ctx, s.tabID, s.step.Selector, s.step.FilePath)
	})
	if err == nil {
		return nil
	}
	if !errors.Is(err, types.ErrFileInputUnsupported) {
		return err
	}

	platformName := s.recipe.Platform.String()
	utils.WarnWithPlatform(platformName, fmt.Sprintf("[-] 无法直接设置文件，请在弹出的窗口中手动选择: %s", s.step.FilePath))
	if _, err := s.exec(recipe.ClickScript(s.step.Selector, "")); err != nil {
		return err
	}
	s.report(types.Progress{
		Kind:   types.ProgressUserInput,
		Step:   s.step.Name,
		Reason: fmt.Sprintf("select file %s", s.step.FilePath),
	})

	started := s.rn.now()
	deadline := started.Add(s.rn.options.UserInputTimeout)
	err = s.pollUntil(deadline, func() (bool, error) {
		res, err := s.exec(recipe.FileCountScript(s.step.Selector))
		if err != nil {
			return false, err
		}
		return res.Int() > 0, nil
	})
	if err != nil {
		return err
	}
	utils.InfoWithPlatform(platformName, fmt.Sprintf("[-] 已手动选择文件 (等待 %s)", s.rn.now().Sub(started).Round(time.Second)))
	return nil
}

func (s *stepRun) waitSelector() error {
	want := int64(s.step.MinCount)
	if want < 1 {
		want = 1
	}
	return s.poll(func() (bool, error) {
		res, err := s.exec(recipe.CountScript(s.step.Selector))
		if err != nil {
			return false, err
		}
		return res.Int() >= want, nil
	})
}

// fillText 填写后读回确认，不一致时重新填写
func (s *stepRun) fillText() error {
	want := strings.TrimSpace(s.step.Text)
	return s.poll(func() (bool, error) {
		if _, err := s.exec(recipe.FillScript(s.step.Selector, s.step.Text)); err != nil {
			return false, err
		}
		res, err := s.exec(recipe.ReadValueScript(s.step.Selector))
		if err != nil {
			return false, err
		}
		return res.Exists() && res.Type != gjson.Null && strings.TrimSpace(res.String()) == want, nil
	})
}

// click 等元素出现后点击
func (s *stepRun) click() error {
	err := s.poll(func() (bool, error) {
		res, err := s.exec(recipe.CountScript(s.step.Selector))
		if err != nil {
			return false, err
		}
		return res.Int() > 0, nil
	})
	if err != nil {
		return err
	}
	_, err = s.exec(recipe.ClickScript(s.step.Selector, s.step.Text))
	return err
}

func (s *stepRun) waitURL() error {
	return s.poll(func() (bool, error) {
		href, err := s.location()
		if err != nil {
			return false, err
		}
		return strings.Contains(href, s.step.URL), nil
	})
}

func (s *stepRun) observe() error {
	return s.poll(func() (bool, error) {
		res, err := s.exec(s.step.Script)
		if err != nil {
			return false, err
		}
		return truthy(res), nil
	})
}

// truthy 按脚本语义判断真值
func truthy(res gjson.Result) bool {
	switch res.Type {
	case gjson.True:
		return true
	case gjson.String:
		return res.Str != ""
	case gjson.Number:
		return res.Num != 0
	case gjson.JSON:
		return true
	}
	return false
}

func stripScheme(u string) string {
	if i := strings.Index(u, "://"); i >= 0 {
		return u[i+3:]
	}
	return u
}
