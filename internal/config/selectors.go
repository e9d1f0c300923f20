package config

import (
	"fmt"
	"maps"
)

// Selectors maps symbolic names to concrete selectors or URLs. Values may
// carry a strategy prefix ("xpath:", "id:", "name:", "css:"); unprefixed
// values are CSS selectors.
//
// These are isolated here because the sites change their DOM frequently.
// Update them in config.toml when a flow breaks.
type Selectors map[string]string

// Lookup returns the value registered under name.
func (s Selectors) Lookup(name string) (string, error) {
	v, ok := s[name]
	if !ok || v == "" {
		return "", fmt.Errorf("no selector configured for %q", name)
	}
	return v, nil
}

// Has reports whether name is configured.
func (s Selectors) Has(name string) bool {
	return s[name] != ""
}

// Merge returns a copy of s with every entry of override applied.
func (s Selectors) Merge(override Selectors) Selectors {
	out := maps.Clone(s)
	if out == nil {
		out = Selectors{}
	}
	maps.Copy(out, override)
	return out
}

// ShopeeSelectors returns the built-in table for shopee.tw.
func ShopeeSelectors() Selectors {
	const coinDiv = `//div[text()="蝦幣獎勵"]/..`
	return Selectors{
		"home_url":   "https://shopee.tw/",
		"coin_url":   "https://shopee.tw/shopee-coins",
		"coupon_url": "https://shopee.tw/m/seller-voucher?smtt=0.0.7",

		// Login
		"popup_close":  ".shopee-popup__close-btn",
		"logged_in":    ".shopee-avatar",
		"login_url":    "https://shopee.tw/buyer/login",
		"login_user":   "name:loginKey",
		"login_pass":   "name:password",
		"login_submit": "#modal > aside > div > div > div > div > div > div > button:nth-child(2)",
		"sms_prompt":   ".shopee-authen__outline-button",
		"sms_input":    ".shopee-authen .input-with-status__input",
		"sms_submit":   ".shopee-authen .btn-solid-primary",
		"auth_error":   ".shopee-authen .shopee-authen__error",

		// Coins
		"coin_button": "xpath:" + coinDiv + "/button",
		"coin_value":  "xpath:" + coinDiv + "/a/p",

		// Coupons
		"coupon_focus":   "img.uSG0wm.V1Fpl5",
		"coupon":         "div._3ubyiy",
		"coupon_details": "div._2sbcJ3",
		"coupon_name":    "h1",
		"coupon_terms":   "p",
		"coupon_button":  "button",
		"coupon_status":  "svg > g > text",

		// Flash sale
		"sale_popup_close":     "div.shopee-popup__close-btn",
		"sale_carousel_button": "div.shopee-flash-sale-overview-carousel button",
		"sale_item":            "div.flash-sale-item-card",
		"sale_item_name":       "div.flash-sale-item-card__item-name",
		"sale_item_price":      "div.flash-sale-item-card__current-price",
		"sale_item_soldout":    "div.flash-sale-sold-out",

		// Button captions
		"text_login":    "登入",
		"text_check_in": "簽到",
		"text_browse":   "去逛逛",
	}
}

// MomoSelectors returns the built-in table for momoshop.com.tw.
func MomoSelectors() Selectors {
	return Selectors{
		"home_url":        "https://www.momoshop.com.tw/",
		"task_link_1":     "a#bt_0_244_01_P1_4_e1",
		"task_link_2":     "a.days_btn.promo0_0Click",
		"task_area_1":     "div#html1.dailytaskArea",
		"countdown":       "id:sec",
		"ajax_login":      "div#ajaxLogin",
		"login_user":      "input#memId",
		"login_pass_show": "input#passwd_show",
		"login_pass":      "input#passwd",
		"login_submit":    "dd.loginBtn > input",
		"task_area_2":     "div#html2.dailytaskArea",
		"task_done":       "div#html2.dailytaskArea > div.dayon",
		"task_title":      "p.title",
	}
}
