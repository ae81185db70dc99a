package listing

import "html"

// WaitlistForm is appended to every product description. It posts to the
// storefront's customer contact endpoint, tagging sign-ups for follow-up.
const WaitlistForm = `<div style="background: #f8f9fa; padding: 20px; margin: 20px 0; border-radius: 8px; border-left: 4px solid #28a745;">
  <h4 style="margin-top: 0; color: #28a745;">🎯 Join the Waitlist</h4>
  <p style="margin-bottom: 15px;">This item is currently out of stock. Enter your email below to be notified when it becomes available:</p>
  <form action="/contact" method="post" style="display: flex; gap: 10px; flex-wrap: wrap;">
    <input type="hidden" name="form_type" value="customer">
    <input type="hidden" name="tags" value="waitlist,threadsketch">
    <input type="email" name="contact[email]" placeholder="your@email.com" required style="flex: 1; min-width: 200px; padding: 10px; border: 1px solid #ddd; border-radius: 4px;">
    <button type="submit" style="background: #28a745; color: white; border: none; padding: 10px 20px; border-radius: 4px; cursor: pointer;">Notify Me</button>
  </form>
</div>`

// DescriptionHTML wraps plain text in a paragraph followed by the waitlist form.
func DescriptionHTML(text string) string {
	return "<p>" + html.EscapeString(text) + "</p>\n" + WaitlistForm
}
