// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	"fmt"

	"github.com/AleutianAI/DispatchGuard/services/support/language"
	"github.com/AleutianAI/DispatchGuard/services/support/session"
)

// actionNames localizes the action being confirmed or reported.
var actionNames = map[string]map[session.ActionKind]string{
	language.English: {
		session.ActionRegisterDocument: "registering your documents",
		session.ActionSubmitEvidence:   "submitting your evidence",
		session.ActionEscalateDispute:  "escalating your dispute to a reviewer",
		session.ActionDeleteAccount:    "deleting your account",
	},
	language.Arabic: {
		session.ActionRegisterDocument: "تسجيل المستندات",
		session.ActionSubmitEvidence:   "تقديم الإثبات",
		session.ActionEscalateDispute:  "تصعيد الشكوى لموظف",
		session.ActionDeleteAccount:    "حذف الحساب",
	},
}

// reply templates by kind and language. %s is the localized action name
// where the template mentions one.
var replyTemplates = map[session.ReplyKind]map[string]string{
	session.ReplyAskConfirm: {
		language.English: "You asked about %s. Should I go ahead? Please reply yes or no.",
		language.Arabic:  "انت طلبت %s. اكمل؟ من فضلك رد بنعم او لا.",
	},
	session.ReplyExecuted: {
		language.English: "Done. I finished %s.",
		language.Arabic:  "تم. خلصت %s.",
	},
	session.ReplyCancelled: {
		language.English: "Okay, I cancelled %s. Nothing was changed.",
		language.Arabic:  "تمام، الغيت %s. محصلش اي تغيير.",
	},
	session.ReplyReprompt: {
		language.English: "Sorry, I didn't catch that. I still need a yes or no about %s.",
		language.Arabic:  "معلش مش فاهم. محتاج رد بنعم او لا بخصوص %s.",
	},
	session.ReplyForcedCancel: {
		language.English: "I couldn't get a clear answer, so I cancelled %s to be safe. Ask again whenever you're ready.",
		language.Arabic:  "معرفتش افهم ردك، فالغيت %s للامان. اطلبها تاني في اي وقت.",
	},
	session.ReplyExpired: {
		language.English: "Your earlier request for %s expired without confirmation, so I cancelled it.",
		language.Arabic:  "طلبك السابق بخصوص %s انتهى من غير تاكيد، فاتلغى.",
	},
	session.ReplyReset: {
		language.English: "Something went wrong with our conversation, so I started over. How can I help?",
		language.Arabic:  "حصلت مشكلة في المحادثة فبدأنا من الاول. اقدر اساعدك ازاي؟",
	},
	session.ReplyGeneral: {
		language.English: "Got it. How else can I help you?",
		language.Arabic:  "تمام. اقدر اساعدك في ايه تاني؟",
	},
}

// standalone templates not tied to a guard reply kind.
var (
	supersededTemplates = map[string]string{
		language.English: "I set your earlier request aside. ",
		language.Arabic:  "لغيت الطلب اللي قبله. ",
	}
	apologyTemplates = map[string]string{
		language.English: "Sorry, %s failed on our side. Nothing was changed; please try again in a bit.",
		language.Arabic:  "للاسف حصلت مشكلة عندنا في %s. محصلش اي تغيير، جرب تاني بعد شوية.",
	}
	restrictedTemplates = map[string]string{
		language.English: "Your account can't use this action right now. Please contact support through the app.",
		language.Arabic:  "حسابك مش مسموح له بالخدمة دي دلوقتي. من فضلك كلم الدعم من التطبيق.",
	}
	staleTemplates = map[string]string{
		language.English: "I already handled a newer message from you, so I skipped this one.",
		language.Arabic:  "انا رديت على رسالة احدث منك، فعديت الرسالة دي.",
	}
)

func langOrDefault(lang string) string {
	if lang == language.English {
		return language.English
	}
	return language.Arabic
}

// actionName returns the localized description of an action.
func actionName(lang string, kind session.ActionKind) string {
	return actionNames[langOrDefault(lang)][kind]
}

// renderReply produces the reply text for a guard outcome.
func renderReply(lang string, reply session.ReplyKind, action session.ActionKind, superseded bool) string {
	l := langOrDefault(lang)
	tpl := replyTemplates[reply][l]

	var text string
	switch reply {
	case session.ReplyAskConfirm, session.ReplyExecuted, session.ReplyCancelled,
		session.ReplyReprompt, session.ReplyForcedCancel, session.ReplyExpired:
		text = fmt.Sprintf(tpl, actionName(l, action))
	default:
		text = tpl
	}

	if superseded {
		text = supersededTemplates[l] + text
	}
	return text
}

func renderApology(lang string, action session.ActionKind) string {
	l := langOrDefault(lang)
	return fmt.Sprintf(apologyTemplates[l], actionName(l, action))
}

func renderRestricted(lang string) string {
	return restrictedTemplates[langOrDefault(lang)]
}

func renderStale(lang string) string {
	return staleTemplates[langOrDefault(lang)]
}
