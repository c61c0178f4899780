package reporter

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"binance-ai-trader-go/internal/models"
)

// maxReportTrades 限制报告中展示的最近交易条数。
const maxReportTrades = 20

// PrintSessionReport 在进程退出前打印本次会话的汇总报告：
// 运行状态、组合持仓与最近成交。
func PrintSessionReport(snap models.Snapshot, startedAt time.Time) {
	fmt.Println()
	printRunSummary(snap, startedAt)
	printPositions(snap)
	printRecentTrades(snap)
}

func printRunSummary(snap models.Snapshot, startedAt time.Time) {
	mode := "实盘"
	if snap.Status.SimulationMode {
		mode = "模拟"
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.SetTitle("会话汇总")
	t.AppendRows([]table.Row{
		{"运行模式", mode},
		{"运行时长", time.Since(startedAt).Round(time.Second).String()},
		{"完成周期", snap.Status.CycleCount},
		{"失败周期", snap.Status.ErrorCount},
		{"总交易数", snap.Performance.TotalTrades},
		{"成功交易", snap.Performance.SuccessfulTrades},
		{"失败交易", snap.Performance.FailedTrades},
		{"累计成交额", fmt.Sprintf("%.2f USDT", snap.Performance.TotalVolume)},
		{"组合总值", fmt.Sprintf("%.2f USDT", snap.Risk.TotalValue)},
		{"总仓位比例", fmt.Sprintf("%.1f%%", snap.Risk.TotalExposureRatio*100)},
	})
	t.Render()
}

func printPositions(snap models.Snapshot) {
	if len(snap.Positions) == 0 {
		return
	}

	assets := make([]string, 0, len(snap.Positions))
	for a := range snap.Positions {
		assets = append(assets, a)
	}
	sort.Strings(assets)

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.SetTitle("期末持仓")
	t.AppendHeader(table.Row{"资产", "数量", "最新价", "市值 (USDT)"})
	for _, a := range assets {
		p := snap.Positions[a]
		if p.TotalAmount() <= 0 {
			continue
		}
		t.AppendRow(table.Row{
			p.Asset,
			fmt.Sprintf("%.6f", p.TotalAmount()),
			fmt.Sprintf("%.4f", p.LastPrice),
			fmt.Sprintf("%.2f", p.USDValue),
		})
	}
	t.Render()
}

func printRecentTrades(snap models.Snapshot) {
	trades := snap.Trades
	if len(trades) == 0 {
		return
	}
	if len(trades) > maxReportTrades {
		trades = trades[len(trades)-maxReportTrades:]
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.SetTitle("最近成交")
	t.AppendHeader(table.Row{"时间", "交易对", "方向", "数量", "价格", "状态"})
	for _, tr := range trades {
		t.AppendRow(table.Row{
			tr.Timestamp.Format("01-02 15:04:05"),
			tr.Symbol,
			tr.Side,
			fmt.Sprintf("%.6f", tr.Quantity),
			fmt.Sprintf("%.4f", tr.Price),
			tr.Status,
		})
	}
	t.Render()
}
