package session

import "fmt"

// Seletores do portal 95598 (element-ui). Mudam quando o portal muda de layout.
var (
	selPasswordTab = CSS(".user")
	selInputs      = CSS(".el-input__inner")
	selAgree       = XPath(`//*[@id="login_box"]/div[2]/div[1]/form/div[1]/div[3]/div/span[2]`)
	selLoginButton = CSS(".el-button.el-button--primary")
	selSlider      = CSS(".slide-verify-slider-mask-item")

	selDropdown      = CSS(".el-dropdown")
	selDropdownOpen  = XPath(`//div[@class='el-dropdown']/span`)
	selDropdownItems = XPath(`//ul[@class='el-dropdown-menu el-popper']/li`)

	selAccountSuffix = CSS(".el-input__suffix")
	selInfoID        = XPath(`//*[@id="app"]/div/div/article/div/div/div[2]/div/div/div[1]/div[2]/div/div/div/div[2]/div/div[1]/div/ul/div/li[1]/span[2]`)
	selInfoLocation  = XPath(`//*[@id="app"]/div/div/article/div/div/div[2]/div/div/div[1]/div[2]/div/div/div/div[2]/div/div[1]/div/ul/div/li[2]/span[2]`)

	selBalance       = CSS(".num")
	selBalanceMarker = CSS(".amttxt")

	selYearInput   = XPath(`//*[@id="pane-first"]/div[1]/div/div[1]/div/div/input`)
	selTabFirst    = XPath(`//div[@class='el-tabs__nav is-top']/div[@id='tab-first']`)
	selTabSecond   = XPath(`//div[@class='el-tabs__nav is-top']/div[@id='tab-second']`)
	selTotal       = CSS(".total")
	selYearUsage   = XPath(`//ul[@class='total']/li[1]/span`)
	selYearCharge  = XPath(`//ul[@class='total']/li[2]/span`)
	selMonthTable  = XPath(`//*[@id='pane-first']/div[1]/div[2]/div[2]/div/div[3]/table/tbody`)
	selFirstDate   = XPath(`//div[@class='el-tab-pane dayd']//div[@class='el-table__body-wrapper is-scrolling-none']/table/tbody/tr[1]/td[1]/div`)
	selFirstUsage  = XPath(`//div[@class='el-tab-pane dayd']//div[@class='el-table__body-wrapper is-scrolling-none']/table/tbody/tr[1]/td[2]/div`)
	selDailyTable  = XPath(`//*[@id='pane-second']/div[2]/div[2]/div[1]/div[3]/table/tbody`)
	selRetention7  = XPath(`//*[@id='pane-second']/div[1]/div/label[1]/span[1]`)
	selRetention30 = XPath(`//*[@id='pane-second']/div[1]/div/label[2]/span[1]`)
)

// canvasJS devolve o fundo do desafio como data URL PNG.
const canvasJS = `() => document.getElementById("slideVerify").childNodes[0].toDataURL("image/png")`

func selAccountItem(index int) Selector {
	return XPath(fmt.Sprintf(`/html/body/div[2]/div[1]/div[1]/ul/li[%d]/span`, index+1))
}

func selYearOption(year int) Selector {
	return XPath(fmt.Sprintf(`//span[contains(text(), '%d')]`, year))
}
